package domain

import (
	"fmt"
	"strings"
)

// Stage is one of the five canonical order-progress values. Callers
// speak a looser vocabulary ("requested", "ready", "completed", ...);
// Normalize folds it into this closed set.
type Stage string

const (
	StageWaiting   Stage = "waiting"
	StageAccepted  Stage = "accepted"
	StagePreparing Stage = "preparing"
	StageCooked    Stage = "cooked"
	StageServed    Stage = "served"
)

var stageOrder = []Stage{
	StageWaiting,
	StageAccepted,
	StagePreparing,
	StageCooked,
	StageServed,
}

// StageOrder returns the canonical stages in forward order as strings,
// the form the store needs for rank comparisons.
func StageOrder() []string {
	out := make([]string, len(stageOrder))
	for i, s := range stageOrder {
		out[i] = string(s)
	}
	return out
}

// Index returns the position of s in the forward order, or -1 for a
// value outside the canonical set.
func (s Stage) Index() int {
	for i, v := range stageOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s Stage) Before(o Stage) bool {
	return s.Index() < o.Index()
}

// Advance returns the later of s and to. Orders only ever move forward
// through the canonical sequence; a label that normalizes to an earlier
// stage leaves the stage where it is.
func (s Stage) Advance(to Stage) Stage {
	if s.Before(to) {
		return to
	}
	return s
}

// Channel names used by the notification layer. One channel per table
// and one per order.
func ChannelTable(tableID int64) string {
	return fmt.Sprintf("table_%d", tableID)
}

func ChannelOrder(orderID string) string {
	return "order_" + orderID
}

// Normalize maps a raw status label to its canonical stage. The mapping
// is case-insensitive and total: anything unrecognized counts as
// waiting, so a new upstream vocabulary degrades to the initial stage
// instead of failing the call.
func Normalize(raw string) Stage {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "requested", "waiting", "pending":
		return StageWaiting
	case "accepted":
		return StageAccepted
	case "preparing":
		return StagePreparing
	case "ready", "cooked":
		return StageCooked
	case "served", "completed":
		return StageServed
	default:
		return StageWaiting
	}
}
