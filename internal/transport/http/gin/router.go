package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kirinyoku/dinetrack/internal/domain"
	"github.com/kirinyoku/dinetrack/internal/notify"
	postgresrepo "github.com/kirinyoku/dinetrack/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/dinetrack/internal/repository/redis"
	"github.com/kirinyoku/dinetrack/internal/service"
	"github.com/kirinyoku/dinetrack/internal/service/orders"
	"github.com/kirinyoku/dinetrack/internal/service/reservation"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	hub *notify.Hub,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Tables
	r.GET("/tables", handleListTables(svcs))
	r.GET("/tables/occupied", handleOccupiedTables(svcs))
	r.POST("/tables/hold/:id", handleHoldTable(svcs))
	r.POST("/tables/occupy/:id", handleOccupyTable(svcs))
	r.POST("/tables/release/:id", handleReleaseTable(svcs))
	r.GET("/tables/:id/events", handleTableEvents(svcs, hub))

	// Orders
	r.POST("/orders", handleCreateOrder(svcs, idem))
	r.GET("/orders", handleListOrders(svcs))
	r.GET("/orders/:id", handleGetOrder(svcs))
	r.PATCH("/orders/:id/status", handleAdvanceOrder(svcs))
	r.PATCH("/orders/:id/serve", handleServeOrder(svcs))
	r.GET("/orders/:id/events", handleOrderEvents(svcs, hub))

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  List tables
// @Success  200  {array}  TableResponse
// @Router   /tables [get]
func handleListTables(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		tables, err := svcs.Reservation.List(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s
		writeJSONWithCache(c, http.StatusOK, toTableResponses(tables), "public, max-age=5", true)
	}
}

// @Summary  List occupied table numbers
// @Success  200  {object}  OccupiedTablesResponse
// @Router   /tables/occupied [get]
func handleOccupiedTables(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		nums, err := svcs.Reservation.Occupied(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, OccupiedTablesResponse{OccupiedTables: nums})
	}
}

// @Summary  Hold a table
// @Param    id   path  int               true  "Table ID"
// @Param    req  body  HoldTableRequest  true  "payload"
// @Success  200  {object}  TableResponse
// @Failure  400  {object}  ErrorResponse  "table not available"
// @Failure  429  {object}  ErrorResponse  "rate limited"
// @Router   /tables/hold/{id} [post]
func handleHoldTable(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req HoldTableRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		rlKey := "ip:" + c.ClientIP()

		t, err := svcs.Reservation.Hold(c.Request.Context(), tableID, req.HolderID, rlKey)
		if err != nil {
			if errors.Is(err, reservation.ErrRateLimited) {
				c.Header("Retry-After", "60")
				c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
				return
			}
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toTableResponse(t))
	}
}

// @Summary  Occupy a table
// @Param    id   path  int                 true  "Table ID"
// @Param    req  body  OccupyTableRequest  true  "payload"
// @Success  200  {object}  TableResponse
// @Failure  400  {object}  ErrorResponse  "cannot occupy"
// @Router   /tables/occupy/{id} [post]
func handleOccupyTable(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req OccupyTableRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		t, err := svcs.Reservation.Occupy(c.Request.Context(), tableID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toTableResponse(t))
	}
}

// @Summary  Release a held table
// @Param    id  path  int  true  "Table ID"
// @Success  200  {object}  TableResponse
// @Failure  400  {object}  ErrorResponse  "table not held"
// @Router   /tables/release/{id} [post]
func handleReleaseTable(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		t, err := svcs.Reservation.Release(c.Request.Context(), tableID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toTableResponse(t))
	}
}

// @Summary  Create order (idempotent)
// @Param    req  body  CreateOrderRequest  true  "payload"
// @Header   201  {string}  Idempotency-Key  "echo"
// @Success  201  {object}  OrderResponse
// @Failure  400  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse  "table not found"
// @Router   /orders [post]
func handleCreateOrder(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemOrder(idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		items := make([]domain.OrderItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, domain.OrderItem{Dish: it.Dish, Quantity: it.Quantity})
		}

		o, err := svcs.Orders.Create(c.Request.Context(), req.TableID, items, req.TotalCost)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := toOrderResponse(o)

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  List orders, newest first
// @Success  200  {array}  OrderResponse
// @Router   /orders [get]
func handleListOrders(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svcs.Orders.List(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponses(out))
	}
}

// @Summary  Get order
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200  {object}  OrderResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseOrderIDParam(c)
		if !ok {
			return
		}

		o, err := svcs.Orders.Get(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(o))
	}
}

// @Summary  Advance order status
// @Param    id   path  string               true  "Order ID (uuid)"
// @Param    req  body  AdvanceOrderRequest  true  "payload"
// @Success  200  {object}  OrderResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /orders/{id}/status [patch]
func handleAdvanceOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseOrderIDParam(c)
		if !ok {
			return
		}
		var req AdvanceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		o, err := svcs.Orders.Advance(c.Request.Context(), orderID, req.Status)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(o))
	}
}

// @Summary  Mark order served
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200  {object}  OrderResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /orders/{id}/serve [patch]
func handleServeOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseOrderIDParam(c)
		if !ok {
			return
		}

		o, err := svcs.Orders.Advance(c.Request.Context(), orderID, "served")
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(o))
	}
}

// @Summary  Subscribe to table events (SSE)
// @Param    id  path  int  true  "Table ID"
// @Success  200  {string}  string  "event stream"
// @Router   /tables/{id}/events [get]
func handleTableEvents(svcs *service.Services, hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		streamChannel(c, hub, domain.ChannelTable(tableID), func() (domain.Event, error) {
			t, err := svcs.Reservation.Get(c.Request.Context(), tableID)
			if err != nil {
				return domain.Event{}, err
			}

			ev := domain.Event{
				Type:    domain.EventTableSnapshot,
				TableID: t.ID,
				Status:  string(t.Status),
			}
			if t.HeldBy != nil {
				ev.HeldBy = *t.HeldBy
			}
			return ev, nil
		})
	}
}

// @Summary  Subscribe to order updates (SSE)
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200  {string}  string  "event stream"
// @Router   /orders/{id}/events [get]
func handleOrderEvents(svcs *service.Services, hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseOrderIDParam(c)
		if !ok {
			return
		}

		streamChannel(c, hub, domain.ChannelOrder(orderID.String()), func() (domain.Event, error) {
			o, err := svcs.Orders.Get(c.Request.Context(), orderID)
			if err != nil {
				return domain.Event{}, err
			}

			return domain.Event{
				Type:    domain.EventOrderUpdate,
				OrderID: o.ID.String(),
				TableID: o.TableID,
				Status:  string(o.CanonicalStatus),
			}, nil
		})
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseOrderIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// reservation service
	case errors.Is(err, reservation.ErrTableNotAvailable):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "table not available"})
		return
	case errors.Is(err, reservation.ErrCannotOccupy):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot occupy"})
		return
	case errors.Is(err, reservation.ErrTableNotHeld):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "table not held"})
		return
	case errors.Is(err, reservation.ErrTableNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "table not found"})
		return
	// orders service
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
		return
	case errors.Is(err, orders.ErrTableNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "table not found"})
		return
	case errors.Is(err, orders.ErrEmptyOrder):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "order has no items"})
		return
	case errors.Is(err, orders.ErrInvalidOrder):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid order"})
		return
	}

	// Transient store failures are reported as retryable, everything
	// else is opaque.
	if postgresrepo.IsRetryable(err) {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
