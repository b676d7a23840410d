package main

import (
	"context"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-saga/internal/analytics"
	"github.com/ariefcatur/go-order-saga/internal/catalog"
	"github.com/ariefcatur/go-order-saga/internal/changefeed"
	"github.com/ariefcatur/go-order-saga/internal/email"
	"github.com/ariefcatur/go-order-saga/internal/fraud"
	"github.com/ariefcatur/go-order-saga/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/mysqlx"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/queue"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
)

// deps are opened on first use so a consumer only connects to what it needs.
type deps struct {
	env
	ctx   context.Context
	pg    *pgxpool.Pool
	mysql *sqlx.DB
	redis *redis.Client
	prod  *kafkax.Producer
}

func (d *deps) orders() (*orders.Repo, error) {
	if d.pg == nil {
		pg, err := postgres.Connect(d.ctx, d.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		d.pg = pg
	}
	return &orders.Repo{DB: d.pg}, nil
}

func (d *deps) catalog() (*catalog.Repo, error) {
	if d.mysql == nil {
		db, err := mysqlx.Connect(d.ctx, d.cfg.CatalogDSN)
		if err != nil {
			return nil, err
		}
		d.mysql = db
	}
	return &catalog.Repo{DB: d.mysql}, nil
}

func (d *deps) rdb() (*redis.Client, error) {
	if d.redis == nil {
		rdb := redisx.New(d.cfg.RedisAddr)
		if err := redisx.Ping(d.ctx, rdb); err != nil {
			_ = rdb.Close()
			return nil, err
		}
		d.redis = rdb
	}
	return d.redis, nil
}

func (d *deps) bus() *kafkax.Bus {
	if d.prod == nil {
		d.prod = kafkax.NewProducer(d.cfg.KafkaBrokers)
	}
	return d.env.bus(d.prod)
}

func (d *deps) close() {
	if d.pg != nil {
		d.pg.Close()
	}
	if d.mysql != nil {
		_ = d.mysql.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.prod != nil {
		_ = d.prod.Close()
	}
}

func (d *deps) dedup(consumer string) (*redisx.Deduper, error) {
	if !d.cfg.DedupEnabled {
		return nil, nil
	}
	rdb, err := d.rdb()
	if err != nil {
		return nil, err
	}
	return &redisx.Deduper{Redis: rdb, Consumer: consumer}, nil
}

type consumerSpec struct {
	topic func(d *deps) string
	build func(d *deps, logger log.FieldLogger) (queue.BatchHandler, error)
}

var consumers = map[string]consumerSpec{
	"inventory": {
		topic: func(d *deps) string { return d.cfg.Topics.Inventory },
		build: func(d *deps, logger log.FieldLogger) (queue.BatchHandler, error) {
			cat, err := d.catalog()
			if err != nil {
				return nil, err
			}
			c := &inventory.Consumer{Catalog: cat, Log: logger}
			dd, err := d.dedup("inventory")
			if err != nil {
				return nil, err
			}
			if dd != nil {
				c.Dedup = dd
			}
			return c, nil
		},
	},
	"fraud": {
		topic: func(d *deps) string { return d.cfg.Topics.FraudChecks },
		build: func(d *deps, logger log.FieldLogger) (queue.BatchHandler, error) {
			repo, err := d.orders()
			if err != nil {
				return nil, err
			}
			return &fraud.Consumer{Store: repo, Threshold: d.cfg.RiskThreshold, Log: logger}, nil
		},
	},
	"email": {
		topic: func(d *deps) string { return d.cfg.Topics.OrderEvents },
		build: func(d *deps, logger log.FieldLogger) (queue.BatchHandler, error) {
			repo, err := d.orders()
			if err != nil {
				return nil, err
			}
			return &email.Consumer{Store: repo, Sender: email.LogSender{Log: logger}, From: d.cfg.FromEmail, Log: logger}, nil
		},
	},
	"analytics": {
		topic: func(d *deps) string { return d.cfg.Topics.OrderEvents },
		build: func(d *deps, logger log.FieldLogger) (queue.BatchHandler, error) {
			rdb, err := d.rdb()
			if err != nil {
				return nil, err
			}
			c := &analytics.Consumer{Redis: rdb, Currency: d.cfg.Currency, Log: logger}
			dd, err := d.dedup("analytics")
			if err != nil {
				return nil, err
			}
			if dd != nil {
				c.Dedup = dd
			}
			return c, nil
		},
	},
	"changefeed": {
		topic: func(d *deps) string { return d.cfg.Topics.ChangeFeed },
		build: func(d *deps, logger log.FieldLogger) (queue.BatchHandler, error) {
			rdb, err := d.rdb()
			if err != nil {
				return nil, err
			}
			return &changefeed.Processor{
				Effects:   &changefeed.SideEffects{Redis: rdb, Bus: d.bus(), Log: logger},
				Threshold: d.cfg.RiskThreshold,
				Log:       logger,
			}, nil
		},
	},
}

func consumerNames() string {
	names := make([]string, 0, len(consumers))
	for n := range consumers {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func consume(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("usage: orders consume <consumer>... (one of "+consumerNames()+")", 2)
	}
	for _, name := range c.Args().Slice() {
		if _, ok := consumers[name]; !ok {
			return cli.Exit("unknown consumer "+name, 2)
		}
	}

	e, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	d := &deps{env: e, ctx: ctx}
	defer d.close()

	batch := kafkax.BatchConfig{Size: e.cfg.QueueBatchSize, Wait: e.cfg.QueueBatchWait, MaxAttempts: e.cfg.QueueMaxAttempts}
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range c.Args().Slice() {
		spec := consumers[name]
		logger := e.log.WithField("consumer", name)
		h, err := spec.build(d, logger)
		if err != nil {
			return err
		}
		group := e.cfg.ServiceName + "-" + name
		kc := kafkax.NewConsumer(e.cfg.KafkaBrokers, group, spec.topic(d), batch, logger)
		logger.WithFields(log.Fields{"group": group, "topic": spec.topic(d)}).Info("consumer started")
		g.Go(func() error { return kc.Run(gctx, h) })
	}
	return g.Wait()
}
