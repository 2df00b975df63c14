// Package router folds the inbound notification stream into local group and
// proposal state.
//
// Delivery is at-least-once and unordered. Every notification is applied at
// most once by identity; events that reference a proposal or group not yet
// known locally are buffered and replayed when it appears. Only a change to
// the awaited proposal spends one of the bounded attempts; periodic sweeps
// are free, and entries older than the max age are dropped as stale.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veridian/internal/multisig/habname"
	"veridian/internal/multisig/metrics"
	"veridian/internal/multisig/models"
	"veridian/internal/multisig/proposal"
	"veridian/internal/multisig/threshold"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
	"veridian/pkg/platform/sentinel"
)

// Outcome is how the router disposed of one notification.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeDropped   Outcome = "dropped"
	OutcomeRejected  Outcome = "rejected"
)

const (
	DefaultMaxAttempts = 5
	DefaultBufferSize  = 256
	DefaultMaxAge      = 24 * time.Hour
)

type SeenStore interface {
	Seen(ctx context.Context, id domain.NotificationID) (bool, error)
	MarkSeen(ctx context.Context, id domain.NotificationID) error
}

type GroupFinder interface {
	FindGroupByCorrelation(ctx context.Context, corr domain.CorrelationID) (*models.GroupIdentifier, error)
}

type Proposals interface {
	ByCorrelation(ctx context.Context, corr domain.CorrelationID) (*models.Proposal, error)
	Active(ctx context.Context, groupID domain.GroupID) (*models.Proposal, error)
	OpenRemote(ctx context.Context, groupID domain.GroupID, kind models.ProposalKind, corr domain.CorrelationID, initiator domain.AID, artifact string) (*models.Proposal, error)
	ApplyMemberAcceptance(ctx context.Context, id domain.ProposalID, member domain.AID) (*models.Proposal, error)
	ObserveWithdrawal(ctx context.Context, id domain.ProposalID, sender domain.AID) (*models.Proposal, error)
	OnChanged(h proposal.Hook)
}

// Lifecycle adopts inception proposals into local group state.
type Lifecycle interface {
	AdoptRemoteInception(ctx context.Context, in models.RemoteInception) (*models.GroupIdentifier, error)
}

type pending struct {
	notification models.InboundNotification
	waitFor      domain.CorrelationID
	attempts     int
	since        time.Time
}

// Router applies notifications to the coordination engine. Apply and
// RetryPending are serialized; the proposal hook only queues work.
type Router struct {
	groups      GroupFinder
	proposals   Proposals
	lifecycle   Lifecycle
	seen        SeenStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	maxAttempts int
	bufferSize  int
	maxAge      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	buffer  map[domain.NotificationID]*pending
	order   []domain.NotificationID
	readyMu sync.Mutex
	ready   map[domain.CorrelationID]struct{}
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Router) {
		r.tracer = t
	}
}

// WithMaxAttempts bounds how many times a deferred notification is retried
// before it is dropped as stale.
func WithMaxAttempts(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBufferSize bounds the deferred buffer; the oldest entry is dropped
// when it overflows.
func WithBufferSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithMaxAge bounds how long a deferred notification is kept when nothing
// it waits for changes.
func WithMaxAge(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.maxAge = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

func New(groups GroupFinder, proposals Proposals, lifecycle Lifecycle, seen SeenStore, opts ...Option) *Router {
	r := &Router{
		groups:      groups,
		proposals:   proposals,
		lifecycle:   lifecycle,
		seen:        seen,
		logger:      slog.Default(),
		tracer:      otel.Tracer("veridian/multisig/router"),
		maxAttempts: DefaultMaxAttempts,
		bufferSize:  DefaultBufferSize,
		maxAge:      DefaultMaxAge,
		now:         time.Now,
		buffer:      make(map[domain.NotificationID]*pending),
		ready:       make(map[domain.CorrelationID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	proposals.OnChanged(r.proposalChanged)
	return r
}

// Apply routes one notification. It never returns an error: failures are
// isolated to the event and reported through the outcome.
func (r *Router) Apply(ctx context.Context, n models.InboundNotification) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := r.apply(ctx, n)
	r.drainReady(ctx)
	return outcome
}

// RetryPending replays every buffered notification once without spending
// attempts, and drops those older than the max age. It returns how many are
// still deferred afterwards.
func (r *Router) RetryPending(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, id := range append([]domain.NotificationID(nil), r.order...) {
		p, ok := r.buffer[id]
		if !ok {
			continue
		}
		if now.Sub(p.since) > r.maxAge {
			r.drop(ctx, p, "expired")
			continue
		}
		r.retry(ctx, p, false)
	}
	r.drainReady(ctx)
	return len(r.buffer)
}

// Pending returns the number of deferred notifications.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

func (r *Router) apply(ctx context.Context, n models.InboundNotification) Outcome {
	start := time.Now()
	id := n.Identity()
	ctx, span := r.tracer.Start(ctx, "router.Apply", trace.WithAttributes(
		attribute.String("notification.id", string(id)),
		attribute.String("notification.route", string(n.Route)),
	))
	defer span.End()
	defer r.metrics.ObserveApply(start)

	log := r.logger.With("notification_id", id, "route", n.Route, "correlation_id", n.CorrelationID)

	if p, buffered := r.buffer[id]; buffered {
		// Redelivery of a buffered event is a free replay.
		return r.retry(ctx, p, false)
	}
	seen, err := r.seen.Seen(ctx, id)
	if err != nil {
		log.WarnContext(ctx, "seen lookup failed", "error", err)
	} else if seen {
		r.metrics.IncrementNotification(string(n.Route), string(OutcomeDuplicate))
		return OutcomeDuplicate
	}

	outcome, waitFor, err := r.route(ctx, n)
	switch outcome {
	case OutcomeDeferred:
		r.hold(ctx, n, waitFor, err)
	case OutcomeRejected, OutcomeDropped:
		span.SetStatus(codes.Error, string(outcome))
		log.WarnContext(ctx, "notification not applied", "outcome", outcome, "error", err)
		r.markSeen(ctx, id)
	default:
		r.markSeen(ctx, id)
	}
	r.metrics.IncrementNotification(string(n.Route), string(outcome))
	return outcome
}

func (r *Router) route(ctx context.Context, n models.InboundNotification) (Outcome, domain.CorrelationID, error) {
	if n.CorrelationID == "" {
		return OutcomeRejected, "", dErrors.New(dErrors.CodeValidation, "notification without correlation id")
	}
	switch n.Route {
	case models.RouteInceptionProposed:
		return r.inceptionProposed(ctx, n)
	case models.RouteRotationProposed:
		return r.exchangeProposed(ctx, n, models.KindRotation)
	case models.RouteOfferProposed:
		return r.exchangeProposed(ctx, n, models.KindOffer)
	case models.RouteMemberJoined:
		return r.memberJoined(ctx, n)
	case models.RouteProposalWithdrawn:
		return r.proposalWithdrawn(ctx, n)
	}
	return OutcomeDropped, "", dErrors.New(dErrors.CodeBadRequest, "unknown route")
}

func (r *Router) inceptionProposed(ctx context.Context, n models.InboundNotification) (Outcome, domain.CorrelationID, error) {
	var payload models.InceptionPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return OutcomeRejected, "", dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed inception payload")
	}

	group, err := r.groups.FindGroupByCorrelation(ctx, n.CorrelationID)
	switch {
	case err == nil && group.Initiator:
		// Our own inception echoed back.
		return OutcomeApplied, "", nil
	case err == nil:
	case !errors.Is(err, sentinel.ErrNotFound):
		return OutcomeDeferred, n.CorrelationID, err
	case n.RecipientID == "":
		// Adopted once the user joins through the invitation.
		return OutcomeDeferred, n.CorrelationID, models.ErrUnknownGroup
	}

	local := n.RecipientID
	if group != nil {
		local = group.LocalMemberID
	}
	in, err := parseInception(n, payload, local)
	if err != nil {
		return OutcomeRejected, "", err
	}
	if _, err := r.lifecycle.AdoptRemoteInception(ctx, in); err != nil {
		return classify(err, n.CorrelationID)
	}
	return OutcomeApplied, "", nil
}

func parseInception(n models.InboundNotification, payload models.InceptionPayload, local domain.AID) (models.RemoteInception, error) {
	kt, err := threshold.Parse(payload.SigningThreshold)
	if err != nil {
		return models.RemoteInception{}, err
	}
	nt := kt
	if payload.RotationThreshold != "" {
		if nt, err = threshold.Parse(payload.RotationThreshold); err != nil {
			return models.RemoteInception{}, err
		}
	}
	if err := threshold.Validate(kt, len(payload.Members)); err != nil {
		return models.RemoteInception{}, err
	}
	if err := threshold.Validate(nt, len(payload.Members)); err != nil {
		return models.RemoteInception{}, err
	}

	var hasLocal, hasSender bool
	ids := make(map[domain.AID]struct{}, len(payload.Members))
	for _, m := range payload.Members {
		if _, dup := ids[m.ID]; dup {
			return models.RemoteInception{}, dErrors.Wrap(models.ErrDuplicateMember, dErrors.CodeValidation, "member "+string(m.ID)+" is listed twice")
		}
		ids[m.ID] = struct{}{}
		hasLocal = hasLocal || m.ID == local
		hasSender = hasSender || m.ID == n.SenderID
	}
	if !hasLocal || !hasSender {
		return models.RemoteInception{}, dErrors.Wrap(models.ErrUnknownMember, dErrors.CodeValidation, "inception does not list both sender and recipient")
	}

	name := payload.Name
	if parts, err := habname.Parse(payload.Name); err == nil {
		name = parts.DisplayName
	}
	return models.RemoteInception{
		CorrelationID:     n.CorrelationID,
		Initiator:         n.SenderID,
		LocalMember:       local,
		DisplayName:       name,
		Members:           payload.Members,
		SigningThreshold:  kt,
		RotationThreshold: nt,
		ArtifactRef:       payload.ArtifactRef,
	}, nil
}

func (r *Router) exchangeProposed(ctx context.Context, n models.InboundNotification, kind models.ProposalKind) (Outcome, domain.CorrelationID, error) {
	var payload models.ExchangePayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return OutcomeRejected, "", dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed exchange payload")
	}
	if payload.GroupCorrelationID == "" {
		return OutcomeRejected, "", dErrors.New(dErrors.CodeValidation, "exchange without group id")
	}

	group, err := r.groups.FindGroupByCorrelation(ctx, payload.GroupCorrelationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return OutcomeDeferred, payload.GroupCorrelationID, models.ErrUnknownGroup
		}
		return OutcomeDeferred, payload.GroupCorrelationID, err
	}
	if !group.Created {
		return OutcomeDeferred, payload.GroupCorrelationID, dErrors.New(dErrors.CodeInvalidState, "group is not created yet")
	}
	if group.State == models.StateFailed {
		return OutcomeDropped, "", dErrors.New(dErrors.CodeInvalidState, "group has failed")
	}

	if active, err := r.proposals.Active(ctx, group.ID); err == nil && active.CorrelationID != n.CorrelationID {
		return OutcomeDropped, "", dErrors.Wrap(models.ErrProposalActive, dErrors.CodeConflict, "group already has an active proposal")
	}
	if _, err := r.proposals.OpenRemote(ctx, group.ID, kind, n.CorrelationID, n.SenderID, payload.ArtifactRef); err != nil {
		return classify(err, n.CorrelationID)
	}
	return OutcomeApplied, "", nil
}

func (r *Router) memberJoined(ctx context.Context, n models.InboundNotification) (Outcome, domain.CorrelationID, error) {
	p, err := r.proposals.ByCorrelation(ctx, n.CorrelationID)
	if err != nil {
		return classify(err, n.CorrelationID)
	}
	if _, err := r.proposals.ApplyMemberAcceptance(ctx, p.ID, n.SenderID); err != nil {
		return classify(err, n.CorrelationID)
	}
	return OutcomeApplied, "", nil
}

func (r *Router) proposalWithdrawn(ctx context.Context, n models.InboundNotification) (Outcome, domain.CorrelationID, error) {
	p, err := r.proposals.ByCorrelation(ctx, n.CorrelationID)
	if err != nil {
		return classify(err, n.CorrelationID)
	}
	if _, err := r.proposals.ObserveWithdrawal(ctx, p.ID, n.SenderID); err != nil {
		return classify(err, n.CorrelationID)
	}
	return OutcomeApplied, "", nil
}

// classify maps a service error to an outcome. Missing state is retried;
// conflicts are dropped; anything invalid about the event itself is rejected.
func classify(err error, corr domain.CorrelationID) (Outcome, domain.CorrelationID, error) {
	switch {
	case errors.Is(err, models.ErrUnknownProposal),
		errors.Is(err, models.ErrUnknownGroup),
		errors.Is(err, models.ErrProposalNotProposed):
		return OutcomeDeferred, corr, err
	case errors.Is(err, models.ErrProposalActive),
		errors.Is(err, models.ErrProposalAlreadySet),
		dErrors.HasCode(err, dErrors.CodeConflict),
		dErrors.HasCode(err, dErrors.CodeInvalidState):
		return OutcomeDropped, "", err
	case dErrors.HasCode(err, dErrors.CodeInternal),
		dErrors.HasCode(err, dErrors.CodeUnavailable):
		return OutcomeDeferred, corr, err
	}
	return OutcomeRejected, "", err
}

func (r *Router) hold(ctx context.Context, n models.InboundNotification, waitFor domain.CorrelationID, cause error) {
	id := n.Identity()
	if len(r.buffer) >= r.bufferSize && len(r.order) > 0 {
		oldest := r.order[0]
		r.drop(ctx, r.buffer[oldest], "buffer full")
	}
	r.buffer[id] = &pending{notification: n, waitFor: waitFor, since: r.now()}
	r.order = append(r.order, id)
	r.metrics.SetPending(len(r.buffer))
	r.logger.InfoContext(ctx, "notification deferred",
		"notification_id", id, "route", n.Route, "correlation_id", n.CorrelationID,
		"wait_for", waitFor, "reason", cause)
}

// retry re-routes a buffered notification. When spend is set the replay
// counts against the attempt bound and the entry is dropped once it is used
// up.
func (r *Router) retry(ctx context.Context, p *pending, spend bool) Outcome {
	if spend {
		p.attempts++
	}
	id := p.notification.Identity()
	outcome, waitFor, err := r.route(ctx, p.notification)
	if outcome == OutcomeDeferred {
		if spend && p.attempts >= r.maxAttempts {
			r.drop(ctx, p, "retries exhausted")
			return OutcomeDropped
		}
		p.waitFor = waitFor
		r.metrics.IncrementNotification(string(p.notification.Route), string(OutcomeDeferred))
		return OutcomeDeferred
	}

	r.remove(id)
	r.markSeen(ctx, id)
	r.metrics.IncrementNotification(string(p.notification.Route), string(outcome))
	if outcome != OutcomeApplied {
		r.logger.WarnContext(ctx, "replayed notification not applied",
			"notification_id", id, "route", p.notification.Route, "outcome", outcome, "error", err)
	}
	return outcome
}

// drop discards a buffered notification without recording it as seen, so a
// later redelivery is routed again.
func (r *Router) drop(ctx context.Context, p *pending, why string) {
	id := p.notification.Identity()
	r.remove(id)
	r.metrics.IncrementStaleDropped()
	r.metrics.IncrementNotification(string(p.notification.Route), string(OutcomeDropped))
	r.logger.WarnContext(ctx, "stale notification dropped",
		"notification_id", id, "route", p.notification.Route, "correlation_id", p.notification.CorrelationID,
		"attempts", p.attempts, "reason", why, "error", models.ErrStaleNotification)
}

func (r *Router) remove(id domain.NotificationID) {
	delete(r.buffer, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.SetPending(len(r.buffer))
}

func (r *Router) markSeen(ctx context.Context, id domain.NotificationID) {
	if err := r.seen.MarkSeen(ctx, id); err != nil {
		r.logger.WarnContext(ctx, "failed to record notification", "notification_id", id, "error", err)
	}
}

// proposalChanged queues replay of events waiting on the proposal's
// correlation id and, for inceptions, on its group.
func (r *Router) proposalChanged(_ context.Context, p *models.Proposal) {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()
	r.ready[p.CorrelationID] = struct{}{}
}

func (r *Router) takeReady() map[domain.CorrelationID]struct{} {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()
	if len(r.ready) == 0 {
		return nil
	}
	ready := r.ready
	r.ready = make(map[domain.CorrelationID]struct{})
	return ready
}

// drainReady replays buffered notifications whose awaited correlation id
// has changed. Replays can make more ids ready, so it loops until quiet;
// each replay either resolves or spends an attempt, which bounds the loop.
func (r *Router) drainReady(ctx context.Context) {
	for ready := r.takeReady(); ready != nil; ready = r.takeReady() {
		for _, id := range append([]domain.NotificationID(nil), r.order...) {
			p, ok := r.buffer[id]
			if !ok {
				continue
			}
			if _, hit := ready[p.waitFor]; hit {
				r.retry(ctx, p, true)
			}
		}
	}
}
