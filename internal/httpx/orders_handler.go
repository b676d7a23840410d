package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/saga"
)

const productPageSize = 50

type OrderService interface {
	CreateOrder(ctx context.Context, req saga.Request) (saga.Result, error)
	ListOrders(ctx context.Context, customerID string) ([]orders.Order, error)
}

type Catalog interface {
	GetProduct(ctx context.Context, productID string) (orders.Product, error)
	ListProducts(ctx context.Context, limit int) ([]orders.Product, error)
}

// Warmth tracks whether this process has served a request yet.
type Warmth struct {
	served atomic.Bool
}

// Claim reports true exactly once, for the first request after start.
func (w *Warmth) Claim() bool { return !w.served.Swap(true) }

type OrdersHandler struct {
	Orders  OrderService
	Catalog Catalog
	Warmth  *Warmth
	Log     log.FieldLogger
}

type createOrderReq struct {
	CustomerID    string           `json:"customer_id"`
	Items         []orders.ItemQty `json:"items"`
	PaymentMethod string           `json:"payment_method,omitempty"`
}

type listOrdersResp struct {
	Orders []orders.Order `json:"orders"`
	Count  int            `json:"count"`
}

type listProductsResp struct {
	Products []orders.Product `json:"products"`
	Count    int              `json:"count"`
}

type errorResp struct {
	Error   string `json:"error"`
	OrderID string `json:"order_id,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}

	res, err := h.Orders.CreateOrder(r.Context(), saga.Request{
		CustomerID:    req.CustomerID,
		Items:         req.Items,
		PaymentMethod: req.PaymentMethod,
		Invocation:    saga.Invocation{ColdStart: h.coldStart(), RequestID: middleware.GetReqID(r.Context())},
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "customer_id required"})
		return
	}
	out, err := h.Orders.ListOrders(r.Context(), customerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrdersResp{Orders: out, Count: len(out)})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	limit := productPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > productPageSize {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 50"})
			return
		}
		limit = n
	}
	ps, err := h.Catalog.ListProducts(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listProductsResp{Products: ps, Count: len(ps)})
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, err error) {
	code, body := errorResponse(err)
	entry := h.logger().WithError(err).WithField("status", code)
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	writeJSON(w, code, body)
}

func errorResponse(err error) (int, errorResp) {
	var fanout *orders.FanoutError
	switch {
	case errors.Is(err, orders.ErrInvalidRequest):
		return http.StatusBadRequest, errorResp{Error: err.Error()}
	case errors.Is(err, orders.ErrProductNotFound):
		var pnf *orders.ProductNotFoundError
		if errors.As(err, &pnf) {
			return http.StatusNotFound, errorResp{Error: pnf.Error()}
		}
		return http.StatusNotFound, errorResp{Error: "Product not found"}
	case errors.Is(err, orders.ErrPaymentRejected):
		return http.StatusPaymentRequired, errorResp{Error: "Payment failed"}
	case errors.Is(err, orders.ErrPaymentTimeout):
		return http.StatusGatewayTimeout, errorResp{Error: "Payment gateway timeout"}
	case errors.Is(err, orders.ErrPaymentFailed):
		return http.StatusInternalServerError, errorResp{Error: "Payment processing failed"}
	case errors.As(err, &fanout):
		return http.StatusInternalServerError, errorResp{Error: "Order placed but notification failed", OrderID: fanout.OrderID}
	default:
		return http.StatusInternalServerError, errorResp{Error: "Internal server error"}
	}
}

func (h *OrdersHandler) coldStart() bool {
	if h.Warmth == nil {
		return false
	}
	return h.Warmth.Claim()
}

func (h *OrdersHandler) logger() log.FieldLogger {
	if h.Log == nil {
		return log.WithField("component", "http")
	}
	return h.Log
}
