package httpgin

import (
	"time"

	"github.com/kirinyoku/dinetrack/internal/domain"
)

type HoldTableRequest struct {
	HolderID string `json:"holder_id" binding:"required"`
}

type OccupyTableRequest struct {
	OccupantID string `json:"occupant_id" binding:"required"`
}

type OrderItemInput struct {
	Dish     string `json:"dish" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

type CreateOrderRequest struct {
	TableID   int64            `json:"table_id" binding:"required"`
	Items     []OrderItemInput `json:"items" binding:"required,min=1,dive"`
	TotalCost int64            `json:"total_cost" binding:"gte=0"`
}

type AdvanceOrderRequest struct {
	Status string `json:"status" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type TableResponse struct {
	ID            int64      `json:"id"`
	Number        int        `json:"number"`
	SeatCount     int        `json:"seat_count"`
	Status        string     `json:"status"`
	HeldBy        *string    `json:"held_by,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

type OrderResponse struct {
	ID        string             `json:"id"`
	TableID   int64              `json:"table_id"`
	Items     []domain.OrderItem `json:"items"`
	TotalCost int64              `json:"total_cost"`
	RawStatus string             `json:"raw_status"`
	Status    string             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

type OccupiedTablesResponse struct {
	OccupiedTables []int `json:"occupied_tables"`
}

func toTableResponse(t *domain.Table) TableResponse {
	return TableResponse{
		ID:            t.ID,
		Number:        t.Number,
		SeatCount:     t.SeatCount,
		Status:        string(t.Status),
		HeldBy:        t.HeldBy,
		HoldExpiresAt: t.HoldExpiresAt,
	}
}

func toTableResponses(tables []domain.Table) []TableResponse {
	out := make([]TableResponse, 0, len(tables))
	for i := range tables {
		out = append(out, toTableResponse(&tables[i]))
	}
	return out
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:        o.ID.String(),
		TableID:   o.TableID,
		Items:     o.Items,
		TotalCost: o.TotalCost,
		RawStatus: o.RawStatus,
		Status:    string(o.CanonicalStatus),
		CreatedAt: o.CreatedAt,
	}
}

func toOrderResponses(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderResponse(&orders[i]))
	}
	return out
}
