package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ariefcatur/go-order-saga/internal/catalog"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logging"
	"github.com/ariefcatur/go-order-saga/internal/migrations"
	"github.com/ariefcatur/go-order-saga/internal/mysqlx"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
	"github.com/ariefcatur/go-order-saga/internal/payment"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/saga"
)

func main() {
	app := &cli.App{
		Name:  "orders",
		Usage: "order saga API, its consumers and the change-log relay",
		Commands: []*cli.Command{
			{Name: "serve", Usage: "run the HTTP API", Action: serve},
			{
				Name:      "consume",
				Usage:     "run consumers: " + consumerNames(),
				ArgsUsage: "<consumer>...",
				Action:    consume,
			},
			{Name: "relay", Usage: "publish the orders change log to the change feed", Action: relay},
			{Name: "migrate", Usage: "apply order store and catalog migrations", Action: migrate},
			{
				Name:      "set-status",
				Usage:     "move an order to another lifecycle status",
				ArgsUsage: "<order_id> <status>",
				Action:    setStatus,
			},
			{
				Name:      "delete-order",
				Usage:     "remove an order (administrative)",
				ArgsUsage: "<order_id>",
				Action:    deleteOrder,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("orders exited")
	}
}

type env struct {
	cfg config.Config
	log log.FieldLogger
}

func setup() (env, error) {
	cfg, err := config.Load()
	if err != nil {
		return env{}, err
	}
	return env{cfg: cfg, log: logging.Setup(cfg.LogLevel, cfg.ServiceName)}, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (e env) bus(p *kafkax.Producer) *kafkax.Bus {
	return &kafkax.Bus{P: p, Topics: kafkax.Topics(e.cfg.Topics), Service: e.cfg.ServiceName}
}

func (e env) gateway() payment.Gateway {
	if e.cfg.PaymentAPIURL == "" {
		e.log.Warn("PAYMENT_API_URL not set, using simulated payment gateway")
		return &payment.Simulated{Latency: 200 * time.Millisecond}
	}
	return payment.NewHTTPGateway(e.cfg.PaymentAPIURL)
}

func serve(c *cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	pg, err := postgres.Connect(ctx, e.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pg.Close()

	catDB, err := mysqlx.Connect(ctx, e.cfg.CatalogDSN)
	if err != nil {
		return err
	}
	defer catDB.Close()

	prod := kafkax.NewProducer(e.cfg.KafkaBrokers)
	defer prod.Close()
	bus := e.bus(prod)

	cat := &catalog.Repo{DB: catDB}
	orch, err := saga.New(saga.Deps{
		Catalog: cat,
		Gateway: e.gateway(),
		Store:   &orders.Repo{DB: pg},
		Events:  bus,
		Queue:   bus,
		Timeouts: saga.Timeouts{
			Payment:  e.cfg.PaymentTimeout,
			Request:  e.cfg.RequestTimeout,
			Headroom: e.cfg.RequestHeadroom,
		},
		Currency: e.cfg.Currency,
		Logger:   e.log,
	})
	if err != nil {
		return err
	}

	router := httpx.NewRouter(e.log, e.cfg.RequestTimeout)
	(&httpx.OrdersHandler{Orders: orch, Catalog: cat, Warmth: &httpx.Warmth{}, Log: e.log}).Register(router)

	srv := &http.Server{Addr: e.cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		e.log.WithField("addr", e.cfg.HTTPAddr).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}
	e.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func relay(c *cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	pg, err := postgres.Connect(ctx, e.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pg.Close()
	prod := kafkax.NewProducer(e.cfg.KafkaBrokers)
	defer prod.Close()

	r := &outbox.Relay{
		Log:       &orders.Repo{DB: pg},
		Publisher: e.bus(prod),
		Interval:  e.cfg.RelayInterval,
		Batch:     e.cfg.RelayBatch,
		Logger:    e.log.WithField("component", "relay"),
	}
	e.log.WithField("topic", e.cfg.Topics.ChangeFeed).Info("relay started")
	return r.Run(ctx)
}

func migrate(*cli.Context) error {
	e, err := setup()
	if err != nil {
		return err
	}
	if err := migrations.UpOrders(e.cfg.PostgresDSN); err != nil {
		return err
	}
	return migrations.UpCatalog(e.cfg.CatalogDSN)
}

func setStatus(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: orders set-status <order_id> <status>", 2)
	}
	status, ok := orders.ParseStatus(c.Args().Get(1))
	if !ok {
		return cli.Exit("unknown status "+c.Args().Get(1), 2)
	}
	e, err := setup()
	if err != nil {
		return err
	}
	pg, err := postgres.Connect(c.Context, e.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pg.Close()

	orderID := c.Args().Get(0)
	if err := (&orders.Repo{DB: pg}).UpdateStatus(c.Context, orderID, status); err != nil {
		return err
	}
	e.log.WithFields(log.Fields{"order_id": orderID, "status": status}).Info("status updated")
	return nil
}

func deleteOrder(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: orders delete-order <order_id>", 2)
	}
	e, err := setup()
	if err != nil {
		return err
	}
	pg, err := postgres.Connect(c.Context, e.cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pg.Close()

	orderID := c.Args().First()
	if err := (&orders.Repo{DB: pg}).DeleteOrder(c.Context, orderID); err != nil {
		return err
	}
	e.log.WithField("order_id", orderID).Info("order deleted")
	return nil
}
