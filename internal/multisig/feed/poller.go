// Package feed delivers inbound notifications to the router, either by
// paging the agent's notification list or by consuming a Kafka topic.
package feed

import (
	"context"
	"log/slog"
	"time"

	"veridian/internal/multisig/metrics"
	"veridian/internal/multisig/models"
	"veridian/internal/multisig/ports"
	"veridian/internal/multisig/router"
)

const (
	DefaultPageSize     = 25
	DefaultPollInterval = 2 * time.Second
)

// Router is the notification sink.
type Router interface {
	Apply(ctx context.Context, n models.InboundNotification) router.Outcome
	RetryPending(ctx context.Context) int
}

type CursorStore interface {
	LoadCursor(ctx context.Context) (models.FeedCursor, error)
	SaveCursor(ctx context.Context, c models.FeedCursor) error
}

// Poller pages the agent notification list from a persisted cursor.
type Poller struct {
	feed     ports.NotificationFeed
	router   Router
	cursors  CursorStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	pageSize int
	interval time.Duration
}

type PollerOption func(*Poller)

func WithLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

func WithPageSize(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func NewPoller(feed ports.NotificationFeed, r Router, cursors CursorStore, opts ...PollerOption) *Poller {
	p := &Poller{
		feed:     feed,
		router:   r,
		cursors:  cursors,
		logger:   slog.Default(),
		pageSize: DefaultPageSize,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is canceled. Feed and cursor failures back off one
// interval and never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	for {
		n, err := p.PollOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			p.logger.WarnContext(ctx, "notification poll failed", "error", err)
		}
		if err == nil && n > 0 {
			continue
		}
		if err := wait(ctx, p.interval); err != nil {
			return err
		}
	}
}

// PollOnce fetches and applies one page. It returns how many new
// notifications were consumed.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { p.metrics.ObserveFeedPoll(time.Since(start)) }()

	cursor, err := p.cursors.LoadCursor(ctx)
	if err != nil {
		return 0, err
	}

	from := 0
	if cursor.NextIndex > 0 {
		from = cursor.NextIndex - 1
	}
	notes, err := p.feed.ListNotifications(ctx, from, from+p.pageSize-1)
	if err != nil {
		return 0, err
	}

	if cursor.NextIndex > 0 {
		if len(notes) == 0 || notes[0].ID != cursor.LastNotificationID {
			// The list shifted under us; start over and let dedupe absorb
			// repeats.
			p.logger.InfoContext(ctx, "notification cursor reset",
				"next_index", cursor.NextIndex,
				"last_notification_id", cursor.LastNotificationID,
			)
			if err := p.cursors.SaveCursor(ctx, models.FeedCursor{}); err != nil {
				return 0, err
			}
			return p.PollOnce(ctx)
		}
		notes = notes[1:]
	}
	if len(notes) == 0 {
		p.router.RetryPending(ctx)
		return 0, nil
	}

	for _, n := range notes {
		outcome := p.router.Apply(ctx, n)
		p.logger.DebugContext(ctx, "notification consumed",
			"notification_id", n.Identity(),
			"route", n.Route,
			"outcome", outcome,
		)
		if n.ID != "" {
			if err := p.feed.MarkNotificationRead(ctx, n.ID); err != nil {
				p.logger.WarnContext(ctx, "failed to mark notification read",
					"notification_id", n.ID,
					"error", err,
				)
			}
		}
	}

	next := models.FeedCursor{
		NextIndex:          cursor.NextIndex + len(notes),
		LastNotificationID: notes[len(notes)-1].ID,
	}
	if err := p.cursors.SaveCursor(ctx, next); err != nil {
		return len(notes), err
	}
	p.router.RetryPending(ctx)
	return len(notes), nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
