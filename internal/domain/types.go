package domain

import (
	"time"

	"github.com/google/uuid"
)

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableHeld      TableStatus = "held"
	TableOccupied  TableStatus = "occupied"
)

// Table is a physical table on the floor. HeldBy and HoldExpiresAt are
// set iff Status is TableHeld; every write path sets or clears the
// three fields together.
type Table struct {
	ID            int64
	Number        int
	SeatCount     int
	Status        TableStatus
	HeldBy        *string
	HoldExpiresAt *time.Time
}

type OrderItem struct {
	Dish     string `json:"dish"`
	Quantity int    `json:"quantity"`
}

// Order is immutable after creation except for its status pair:
// RawStatus keeps the last label a caller sent, CanonicalStatus the
// normalized stage derived from it.
type Order struct {
	ID              uuid.UUID
	TableID         int64
	Items           []OrderItem
	TotalCost       int64 // minor units
	RawStatus       string
	CanonicalStatus Stage
	CreatedAt       time.Time
}
