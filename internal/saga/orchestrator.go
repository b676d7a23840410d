// Package saga places orders: validate against the catalog, charge, persist, then fan out.
// There is no compensation phase. Once the order is written it stands, whatever happens
// to the fan-out afterwards.
package saga

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/payment"
)

// ListLimit bounds ListOrders to the most recent orders of a customer.
const ListLimit = 20

type Catalog interface {
	GetProduct(ctx context.Context, productID string) (orders.Product, error)
}

type Store interface {
	CreateOrder(ctx context.Context, o orders.Order) error
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]orders.Order, error)
}

type Publisher interface {
	PublishOrderCreated(ctx context.Context, ev orders.OrderEvent) error
}

type Queue interface {
	EnqueueInventoryAdjustment(ctx context.Context, msg orders.InventoryAdjustmentMessage) error
	EnqueueFraudCheck(ctx context.Context, msg orders.FraudCheckMessage) error
}

// Invocation describes the worker handling this call. ColdStart is true for the first
// request served since the process initialised.
type Invocation struct {
	ColdStart bool
	RequestID string
}

type Request struct {
	CustomerID    string
	Items         []orders.ItemQty
	PaymentMethod string
	Invocation    Invocation
}

type Result struct {
	OrderID     string          `json:"order_id"`
	Status      orders.Status   `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type Timeouts struct {
	Payment  time.Duration
	Request  time.Duration
	Headroom time.Duration
}

// Check fails when the payment deadline leaves no room for persistence and fan-out.
func (t Timeouts) Check() error {
	if t.Payment <= 0 {
		return errors.New("payment timeout must be positive")
	}
	if t.Payment >= t.Request-t.Headroom {
		return errors.Errorf("payment timeout %s does not fit request timeout %s with headroom %s",
			t.Payment, t.Request, t.Headroom)
	}
	return nil
}

type Orchestrator struct {
	catalog  Catalog
	gateway  payment.Gateway
	store    Store
	events   Publisher
	queue    Queue
	timeouts Timeouts
	currency string
	log      log.FieldLogger

	now   func() time.Time
	newID func() string
}

type Deps struct {
	Catalog  Catalog
	Gateway  payment.Gateway
	Store    Store
	Events   Publisher
	Queue    Queue
	Timeouts Timeouts
	Currency string
	Logger   log.FieldLogger
}

func New(d Deps) (*Orchestrator, error) {
	if err := d.Timeouts.Check(); err != nil {
		return nil, err
	}
	if d.Currency == "" {
		d.Currency = "USD"
	}
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	return &Orchestrator{
		catalog:  d.Catalog,
		gateway:  d.Gateway,
		store:    d.Store,
		events:   d.Events,
		queue:    d.Queue,
		timeouts: d.Timeouts,
		currency: d.Currency,
		log:      d.Logger.WithField("component", "saga"),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

func (o *Orchestrator) CreateOrder(ctx context.Context, req Request) (Result, error) {
	logger := o.log.WithFields(log.Fields{
		"customer_id": req.CustomerID,
		"cold_start":  req.Invocation.ColdStart,
		"request_id":  req.Invocation.RequestID,
	})
	if err := validate(req); err != nil {
		return Result{}, err
	}

	start := o.now()
	items := make([]orders.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		p, err := o.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, orders.ErrProductNotFound) {
				return Result{}, err
			}
			return Result{}, errors.Wrapf(err, "look up product %s", it.ProductID)
		}
		items = append(items, orders.NewLineItem(p.ProductID, it.Quantity, p.Price))
	}
	total := orders.SumSubtotals(items)
	logger.WithFields(log.Fields{"total": total.String(), "took": o.now().Sub(start).String()}).Info("products validated")

	receipt, err := o.charge(ctx, req.CustomerID, total)
	if err != nil {
		logger.WithError(err).Warn("payment failed")
		return Result{}, err
	}

	now := o.now().UTC()
	order := orders.Order{
		OrderID:     o.newID(),
		CustomerID:  req.CustomerID,
		Timestamp:   now.UnixMilli(),
		Items:       items,
		TotalAmount: total,
		Currency:    o.currency,
		Status:      orders.StatusConfirmed,
		PaymentID:   receipt.ID,
		CreatedAt:   now,
	}
	if err := o.store.CreateOrder(ctx, order); err != nil {
		logger.WithError(err).Error("order not persisted after successful charge")
		return Result{}, errors.Wrapf(orders.ErrStoreUnavailable, "persist order: %v", err)
	}
	logger = logger.WithField("order_id", order.OrderID)
	logger.Info("order saved")

	if err := o.fanOut(ctx, order, req.PaymentMethod); err != nil {
		logger.WithError(err).Error("order placed, fan-out incomplete")
		return Result{OrderID: order.OrderID, Status: order.Status, TotalAmount: total}, err
	}
	logger.Info("order processing completed")
	return Result{OrderID: order.OrderID, Status: order.Status, TotalAmount: total}, nil
}

func (o *Orchestrator) charge(ctx context.Context, customerID string, total decimal.Decimal) (payment.Receipt, error) {
	payCtx, cancel := context.WithTimeout(ctx, o.timeouts.Payment)
	defer cancel()

	receipt, err := o.gateway.Charge(payCtx, payment.ChargeRequest{
		CustomerID: customerID,
		Amount:     total,
		Currency:   o.currency,
	})
	switch {
	case err == nil:
		return receipt, nil
	case errors.Is(err, orders.ErrPaymentRejected), errors.Is(err, orders.ErrPaymentTimeout):
		return payment.Receipt{}, err
	case errors.Is(payCtx.Err(), context.DeadlineExceeded):
		return payment.Receipt{}, orders.ErrPaymentTimeout
	case errors.Is(err, orders.ErrPaymentFailed):
		return payment.Receipt{}, err
	default:
		return payment.Receipt{}, errors.Wrapf(orders.ErrPaymentFailed, "%v", err)
	}
}

// fanOut attempts every side effect; one failing does not stop the others.
func (o *Orchestrator) fanOut(ctx context.Context, order orders.Order, paymentMethod string) error {
	if paymentMethod == "" {
		paymentMethod = "card"
	}
	steps := []struct {
		name string
		run  func() error
	}{
		{"publish order_created", func() error {
			return o.events.PublishOrderCreated(ctx, orders.NewOrderCreatedEvent(order))
		}},
		{"enqueue inventory adjustment", func() error {
			return o.queue.EnqueueInventoryAdjustment(ctx, orders.InventoryAdjustmentMessage{
				OrderID: order.OrderID,
				Items:   order.Quantities(),
			})
		}},
		{"enqueue fraud check", func() error {
			return o.queue.EnqueueFraudCheck(ctx, orders.FraudCheckMessage{
				OrderID:       order.OrderID,
				CustomerID:    order.CustomerID,
				Amount:        order.TotalAmount,
				PaymentMethod: paymentMethod,
			})
		}},
	}

	var failed []string
	var first error
	for _, s := range steps {
		if err := s.run(); err != nil {
			failed = append(failed, s.name)
			if first == nil {
				first = err
			}
		}
	}
	if first == nil {
		return nil
	}
	return &orders.FanoutError{OrderID: order.OrderID, Step: strings.Join(failed, ", "), Err: first}
}

func (o *Orchestrator) ListOrders(ctx context.Context, customerID string) ([]orders.Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, &orders.InvalidRequestError{Reason: "customer_id required"}
	}
	out, err := o.store.ListByCustomer(ctx, customerID, ListLimit)
	if err != nil {
		return nil, errors.Wrapf(orders.ErrStoreUnavailable, "list orders: %v", err)
	}
	return out, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.CustomerID) == "" || len(req.Items) == 0 {
		return &orders.InvalidRequestError{Reason: "Missing customer_id or items"}
	}
	for _, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return &orders.InvalidRequestError{Reason: "product_id required"}
		}
		if it.Quantity <= 0 {
			return &orders.InvalidRequestError{Reason: "quantity must be positive"}
		}
	}
	return nil
}
