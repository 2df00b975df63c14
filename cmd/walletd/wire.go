package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veridian/internal/multisig/agent"
	"veridian/internal/multisig/feed"
	"veridian/internal/multisig/handler"
	"veridian/internal/multisig/lifecycle"
	"veridian/internal/multisig/metrics"
	"veridian/internal/multisig/models"
	"veridian/internal/multisig/oobi"
	"veridian/internal/multisig/proposal"
	"veridian/internal/multisig/registry"
	"veridian/internal/multisig/router"
	"veridian/internal/multisig/store/memory"
	"veridian/internal/multisig/store/redisstore"
	"veridian/internal/multisig/store/sqlstore"
	"veridian/internal/platform/config"
	"veridian/internal/platform/redis"
	"veridian/pkg/domain"
)

// recordStore is what both store backends provide.
type recordStore interface {
	lifecycle.GroupStore
	registry.MemberStore
	proposal.Store
	handler.Credentials
	HasArtifact(ctx context.Context, kind models.ProposalKind, ref string) (bool, error)
}

type seenStore interface {
	Seen(ctx context.Context, id domain.NotificationID) (bool, error)
	MarkSeen(ctx context.Context, id domain.NotificationID) error
}

type runner interface {
	Run(ctx context.Context) error
}

type app struct {
	controller *lifecycle.Controller
	http       http.Handler
	feed       runner
	closers    []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func wire(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := map[string]handler.HealthCheck{}

	var (
		records recordStore
		cursors feed.CursorStore
		seen    seenStore
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		records = memory.NewInMemory()
		cursors = memory.NewCursorStore()
	default:
		dialect := sqlstore.SQLite
		if cfg.Store.Driver == config.DriverPostgres {
			dialect = sqlstore.Postgres
		}
		db, err := sqlstore.Open(ctx, dialect, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		records = db
		cursors = db
		checks["store"] = db.Health
	}
	seen = memory.NewSeenSet()

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		seen = redisstore.NewSeenSet(rc.Client, cfg.Redis.KeyPrefix, cfg.Redis.SeenTTL)
		cursors = redisstore.NewCursorStore(rc.Client, cfg.Redis.KeyPrefix)
		checks["redis"] = rc.Health
	}

	agentClient, err := agent.New(cfg.Agent.URL, cfg.Agent.Timeout,
		agent.WithLogger(log),
		agent.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	members := registry.New(records, records, registry.WithLogger(log))
	coordinator := proposal.New(records, records, members, agentClient, records,
		proposal.WithLogger(log),
		proposal.WithMetrics(m),
	)
	invitations, err := oobi.New(agentClient, cfg.Invitations.CacheSize, oobi.WithLogger(log))
	if err != nil {
		return nil, err
	}
	controller := lifecycle.New(records, members, coordinator, agentClient, invitations,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(m),
	)
	notifications := router.New(records, coordinator, controller, seen,
		router.WithLogger(log),
		router.WithMetrics(m),
		router.WithMaxAttempts(cfg.Router.MaxAttempts),
		router.WithBufferSize(cfg.Router.BufferSize),
		router.WithMaxAge(cfg.Router.MaxAge),
	)

	switch cfg.Feed.Source {
	case config.SourceKafka:
		src, err := feed.NewKafkaSource(feed.KafkaConfig{
			Brokers:     cfg.Feed.Kafka.Brokers,
			Topic:       cfg.Feed.Kafka.Topic,
			Group:       cfg.Feed.Kafka.Group,
			EnsureTopic: cfg.Feed.Kafka.EnsureTopic,
			Partitions:  cfg.Feed.Kafka.Partitions,
		}, notifications, feed.WithKafkaLogger(log), feed.WithKafkaMetrics(m))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, src.Close)
		a.feed = src
	default:
		a.feed = feed.NewPoller(agentClient, notifications, cursors,
			feed.WithLogger(log),
			feed.WithMetrics(m),
			feed.WithPageSize(cfg.Feed.PageSize),
			feed.WithInterval(cfg.Feed.PollInterval),
		)
	}

	h := handler.New(controller, coordinator, records, log)
	for name, check := range checks {
		h.AddHealthCheck(name, check)
	}
	a.controller = controller
	a.http = handler.NewRouter(h, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ok = true
	return a, nil
}
