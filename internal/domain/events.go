package domain

// Event types carried on table and order channels.
const (
	EventTableHeld     = "table_held"
	EventTableOccupied = "table_occupied"
	EventTableReleased = "table_released"
	EventTableSnapshot = "table_snapshot"
	EventOrderUpdate   = "order_update"
)

// Event is the wire form of a single channel notification. Only the
// fields relevant to the event type are populated.
type Event struct {
	Type    string `json:"type"`
	TableID int64  `json:"table_id,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status,omitempty"`
	HeldBy  string `json:"held_by,omitempty"`
	TsUnix  int64  `json:"ts_unix"`
}
