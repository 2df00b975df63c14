// Package proposal coordinates the lifecycle of one in-flight group
// operation: inception, key rotation, or a credential offer.
//
// The Coordinator is the only writer of Proposal records. Joined flags are
// written through the membership registry so that local and remote
// acceptances share one counting rule: a member counts once, however many
// times its acceptance is observed.
package proposal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"veridian/internal/multisig/metrics"
	"veridian/internal/multisig/models"
	"veridian/internal/multisig/ports"
	"veridian/internal/multisig/threshold"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
	"veridian/pkg/platform/sentinel"
)

type Store interface {
	CreateProposal(ctx context.Context, p *models.Proposal) error
	UpdateProposal(ctx context.Context, p *models.Proposal) error
	FindProposal(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	FindProposalByCorrelation(ctx context.Context, corr domain.CorrelationID) (*models.Proposal, error)
	FindActiveProposal(ctx context.Context, groupID domain.GroupID) (*models.Proposal, error)
	ListProposals(ctx context.Context, groupID domain.GroupID) ([]*models.Proposal, error)
}

type GroupReader interface {
	FindGroup(ctx context.Context, id domain.GroupID) (*models.GroupIdentifier, error)
}

type Membership interface {
	ResetJoinState(ctx context.Context, groupID domain.GroupID) error
	MarkJoined(ctx context.Context, groupID domain.GroupID, memberID domain.AID) (bool, error)
	Members(ctx context.Context, groupID domain.GroupID) ([]*models.MemberInfo, error)
}

// Hook observes a proposal after a state change has been persisted.
type Hook func(ctx context.Context, p *models.Proposal)

type eventKind int

const (
	eventChanged eventKind = iota
	eventAccepted
	eventRejected
)

type event struct {
	kind     eventKind
	proposal *models.Proposal
}

// Coordinator tracks proposals and drives them to a final state.
type Coordinator struct {
	proposals Store
	groups    GroupReader
	members   Membership
	agent     ports.ProposalAgent
	artifacts ports.ArtifactLookup
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu         sync.Mutex
	hooksMu    sync.RWMutex
	onChanged  []Hook
	onAccepted []Hook
	onRejected []Hook
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func New(proposals Store, groups GroupReader, members Membership, agent ports.ProposalAgent, artifacts ports.ArtifactLookup, opts ...Option) *Coordinator {
	c := &Coordinator{
		proposals: proposals,
		groups:    groups,
		members:   members,
		agent:     agent,
		artifacts: artifacts,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChanged registers h for every persisted proposal change.
func (c *Coordinator) OnChanged(h Hook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onChanged = append(c.onChanged, h)
}

// OnAccepted registers h for proposals that reach Accepted.
func (c *Coordinator) OnAccepted(h Hook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onAccepted = append(c.onAccepted, h)
}

// OnRejected registers h for proposals that end Rejected or Expired.
func (c *Coordinator) OnRejected(h Hook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onRejected = append(c.onRejected, h)
}

// Open starts a proposal initiated by the local member. The inception
// proposal reuses the group correlation id; other kinds get a fresh one and
// require a created group.
func (c *Coordinator) Open(ctx context.Context, groupID domain.GroupID, kind models.ProposalKind) (*models.Proposal, error) {
	if !kind.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown proposal kind")
	}

	c.mu.Lock()
	p, events, err := c.open(ctx, groupID, kind)
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) open(ctx context.Context, groupID domain.GroupID, kind models.ProposalKind) (*models.Proposal, []event, error) {
	group, err := c.group(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}

	corr := domain.NewCorrelationID()
	if kind == models.KindInception {
		if !group.Initiator {
			return nil, nil, dErrors.New(dErrors.CodeInvalidState, "only the initiator opens the inception proposal")
		}
		corr = group.CorrelationID
	} else if !group.Created {
		return nil, nil, dErrors.New(dErrors.CodeInvalidState, "group is not created yet")
	}

	if err := c.ensureNoActive(ctx, groupID); err != nil {
		return nil, nil, err
	}
	if err := c.members.ResetJoinState(ctx, groupID); err != nil {
		return nil, nil, err
	}

	p := models.NewInitiatorProposal(groupID, kind, corr, group.LocalMemberID, c.now())
	if err := c.create(ctx, p); err != nil {
		return nil, nil, err
	}
	c.logger.InfoContext(ctx, "proposal opened",
		"proposal_id", p.ID, "group_id", groupID, "kind", kind, "correlation_id", corr)
	return p, []event{{eventChanged, p.Clone()}}, nil
}

// OpenRemote records a proposal another member initiated. Observing the same
// correlation twice returns the existing proposal, binding the artifact if
// it was not known before.
func (c *Coordinator) OpenRemote(ctx context.Context, groupID domain.GroupID, kind models.ProposalKind, corr domain.CorrelationID, initiator domain.AID, artifact string) (*models.Proposal, error) {
	if !kind.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown proposal kind")
	}

	c.mu.Lock()
	p, events, err := c.openRemote(ctx, groupID, kind, corr, initiator, artifact)
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) openRemote(ctx context.Context, groupID domain.GroupID, kind models.ProposalKind, corr domain.CorrelationID, initiator domain.AID, artifact string) (*models.Proposal, []event, error) {
	existing, err := c.proposals.FindProposalByCorrelation(ctx, corr)
	switch {
	case err == nil:
		if existing.GroupID != groupID {
			return nil, nil, dErrors.New(dErrors.CodeConflict, "correlation id belongs to another group")
		}
		if artifact == "" {
			return existing, nil, nil
		}
		return c.observeArtifact(ctx, existing, artifact)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proposal")
	}

	if _, err := c.group(ctx, groupID); err != nil {
		return nil, nil, err
	}
	if err := c.ensureNoActive(ctx, groupID); err != nil {
		return nil, nil, err
	}
	if err := c.members.ResetJoinState(ctx, groupID); err != nil {
		return nil, nil, err
	}

	p := models.NewJoinerProposal(groupID, kind, corr, initiator, artifact, c.now())
	if err := c.create(ctx, p); err != nil {
		return nil, nil, err
	}
	c.logger.InfoContext(ctx, "remote proposal recorded",
		"proposal_id", p.ID, "group_id", groupID, "kind", kind, "correlation_id", corr, "state", p.State)
	return p, []event{{eventChanged, p.Clone()}}, nil
}

// SelectArtifact binds the initiator's artifact to a Draft proposal and
// broadcasts it. The broadcast happens before any local mutation, so an
// agent failure leaves the proposal in Draft.
func (c *Coordinator) SelectArtifact(ctx context.Context, id domain.ProposalID, artifactRef string) (*models.Proposal, error) {
	if artifactRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "artifact reference is required")
	}

	c.mu.Lock()
	p, events, err := c.selectArtifact(ctx, id, artifactRef)
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) selectArtifact(ctx context.Context, id domain.ProposalID, artifactRef string) (*models.Proposal, []event, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if p.Role != models.RoleInitiator {
		return nil, nil, dErrors.New(dErrors.CodeInvalidState, "only the initiator selects the artifact")
	}
	if p.ArtifactRef != "" {
		return nil, nil, dErrors.Wrap(models.ErrProposalAlreadySet, dErrors.CodeConflict, "decline and open a new proposal to change the artifact")
	}
	if p.State != models.ProposalDraft {
		return nil, nil, dErrors.Wrap(models.ErrInvalidTransition, dErrors.CodeInvalidState, "proposal is "+string(p.State))
	}

	group, err := c.group(ctx, p.GroupID)
	if err != nil {
		return nil, nil, err
	}
	if p.Kind != models.KindInception {
		// The agent already sent the inception event it produced.
		msg, err := c.message(ctx, group, p, artifactRef)
		if err != nil {
			return nil, nil, err
		}
		start := time.Now()
		err = c.agent.BroadcastProposal(ctx, msg)
		c.metrics.ObserveAgent("broadcast", start)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to broadcast proposal")
		}
	}

	if _, err := p.SetArtifact(artifactRef, c.now()); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "failed to set artifact")
	}
	if err := c.update(ctx, p); err != nil {
		return nil, nil, err
	}
	c.logger.InfoContext(ctx, "proposal artifact selected",
		"proposal_id", p.ID, "kind", p.Kind, "correlation_id", p.CorrelationID)
	return p, []event{{eventChanged, p.Clone()}}, nil
}

// observeArtifact binds the artifact of a remote proposal, moving it from
// AwaitingProposal to Proposed. Ended proposals ignore it.
func (c *Coordinator) observeArtifact(ctx context.Context, p *models.Proposal, artifactRef string) (*models.Proposal, []event, error) {
	if artifactRef == "" {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "artifact reference is required")
	}
	if !p.State.IsActive() && p.ArtifactRef == "" {
		return p, nil, nil
	}
	changed, err := p.SetArtifact(artifactRef, c.now())
	if err != nil {
		if errors.Is(err, models.ErrProposalAlreadySet) {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeConflict, "proposal already has a different artifact")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "failed to set artifact")
	}
	if !changed {
		return p, nil, nil
	}
	if err := c.update(ctx, p); err != nil {
		return nil, nil, err
	}
	return p, []event{{eventChanged, p.Clone()}}, nil
}

// ApplyMemberAcceptance records that member accepted and re-evaluates the
// threshold. Repeats are no-ops. A proposal whose artifact is not known yet
// refuses the acceptance with ErrProposalNotProposed, so Accepted is never
// reached before Proposed.
func (c *Coordinator) ApplyMemberAcceptance(ctx context.Context, id domain.ProposalID, member domain.AID) (*models.Proposal, error) {
	c.mu.Lock()
	p, err := c.load(ctx, id)
	var events []event
	if err == nil {
		p, events, err = c.applyAcceptance(ctx, p, member)
	}
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) applyAcceptance(ctx context.Context, p *models.Proposal, member domain.AID) (*models.Proposal, []event, error) {
	if p.State.IsTerminal() {
		return p, nil, nil
	}
	if !p.State.HasArtifact() {
		return nil, nil, dErrors.Wrap(models.ErrProposalNotProposed, dErrors.CodeInvalidState, "proposal has no artifact yet")
	}

	group, err := c.group(ctx, p.GroupID)
	if err != nil {
		return nil, nil, err
	}
	joined, err := c.members.MarkJoined(ctx, p.GroupID, member)
	if err != nil {
		return nil, nil, err
	}
	recorded := p.RecordAcceptance(member, member == group.LocalMemberID, c.now())
	if !joined && !recorded {
		return p, nil, nil
	}

	var events []event
	accepted, err := c.evaluate(ctx, group, p)
	if err != nil {
		return nil, nil, err
	}
	if err := c.update(ctx, p); err != nil {
		return nil, nil, err
	}
	c.logger.DebugContext(ctx, "member acceptance applied",
		"proposal_id", p.ID, "member_id", member, "state", p.State)

	events = append(events, event{eventChanged, p.Clone()})
	if accepted {
		events = append(events, event{eventAccepted, p.Clone()})
	}
	return p, events, nil
}

// evaluate moves a Proposed proposal to Accepted when the de-duplicated
// joined count reaches the group's threshold for the proposal kind.
func (c *Coordinator) evaluate(ctx context.Context, group *models.GroupIdentifier, p *models.Proposal) (bool, error) {
	if p.State != models.ProposalProposed {
		return false, nil
	}
	members, err := c.members.Members(ctx, p.GroupID)
	if err != nil {
		return false, err
	}
	joined := threshold.JoinedCount(members)
	if !threshold.Reached(group.ThresholdFor(p.Kind), joined) {
		return false, nil
	}
	if err := p.Transition(models.ProposalAccepted, c.now()); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInvalidState, "failed to accept proposal")
	}
	c.metrics.IncrementProposalOutcome(string(p.Kind), string(p.State))
	c.logger.InfoContext(ctx, "proposal threshold reached",
		"proposal_id", p.ID, "kind", p.Kind, "joined", joined, "threshold", group.ThresholdFor(p.Kind))
	return true, nil
}

// LocalAccept records the local member's own acceptance. Joiners first tell
// the agent to sign; the initiator's artifact already carries its signature.
func (c *Coordinator) LocalAccept(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	c.mu.Lock()
	p, events, err := c.localAccept(ctx, id)
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) localAccept(ctx context.Context, id domain.ProposalID) (*models.Proposal, []event, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if p.LocalAccepted {
		return p, nil, nil
	}
	if p.State.IsTerminal() {
		return nil, nil, dErrors.New(dErrors.CodeInvalidState, "proposal has ended")
	}
	if !p.State.HasArtifact() {
		return nil, nil, dErrors.Wrap(models.ErrProposalNotProposed, dErrors.CodeInvalidState, "proposal has no artifact yet")
	}

	group, err := c.group(ctx, p.GroupID)
	if err != nil {
		return nil, nil, err
	}
	if p.Role == models.RoleJoiner {
		msg, err := c.message(ctx, group, p, p.ArtifactRef)
		if err != nil {
			return nil, nil, err
		}
		start := time.Now()
		err = c.agent.AcceptProposal(ctx, msg)
		c.metrics.ObserveAgent("accept", start)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to accept proposal")
		}
	}
	return c.applyAcceptance(ctx, p, group.LocalMemberID)
}

// Decline ends the proposal locally. An initiator also withdraws a
// broadcast proposal through the agent; a joiner only drops its own
// interest and leaves every joined flag as it is.
func (c *Coordinator) Decline(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	c.mu.Lock()
	p, events, err := c.decline(ctx, id)
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) decline(ctx context.Context, id domain.ProposalID) (*models.Proposal, []event, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if p.State.IsTerminal() {
		return p, nil, nil
	}
	if p.State == models.ProposalAccepted {
		return nil, nil, dErrors.New(dErrors.CodeInvalidState, "accepted proposals cannot be declined")
	}

	if p.Role == models.RoleInitiator && p.State == models.ProposalProposed {
		group, err := c.group(ctx, p.GroupID)
		if err != nil {
			return nil, nil, err
		}
		msg, err := c.message(ctx, group, p, p.ArtifactRef)
		if err != nil {
			return nil, nil, err
		}
		start := time.Now()
		err = c.agent.WithdrawProposal(ctx, msg)
		c.metrics.ObserveAgent("withdraw", start)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to withdraw proposal")
		}
	}

	return c.end(ctx, p, func(now time.Time) error { return p.Reject(models.RejectDeclined, now) })
}

// ObserveWithdrawal ends a proposal the initiator withdrew. Only the
// proposal's initiator can withdraw it.
func (c *Coordinator) ObserveWithdrawal(ctx context.Context, id domain.ProposalID, sender domain.AID) (*models.Proposal, error) {
	c.mu.Lock()
	p, events, err := c.observeWithdrawal(ctx, id, sender)
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) observeWithdrawal(ctx context.Context, id domain.ProposalID, sender domain.AID) (*models.Proposal, []event, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if p.InitiatorID != sender {
		return nil, nil, dErrors.New(dErrors.CodeValidation, "withdrawal not sent by the proposal initiator")
	}
	if !p.State.IsActive() {
		return p, nil, nil
	}
	return c.end(ctx, p, func(now time.Time) error { return p.Reject(models.RejectWithdrawn, now) })
}

// Expire ends an active proposal as Expired. Nothing in the engine calls it
// on a timer; proposals wait indefinitely unless a caller decides otherwise.
func (c *Coordinator) Expire(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	c.mu.Lock()
	p, events, err := c.expire(ctx, id)
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) expire(ctx context.Context, id domain.ProposalID) (*models.Proposal, []event, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !p.State.IsActive() {
		return p, nil, nil
	}
	return c.end(ctx, p, func(now time.Time) error { return p.Transition(models.ProposalExpired, now) })
}

func (c *Coordinator) end(ctx context.Context, p *models.Proposal, transition func(time.Time) error) (*models.Proposal, []event, error) {
	if err := transition(c.now()); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "failed to end proposal")
	}
	if err := c.update(ctx, p); err != nil {
		return nil, nil, err
	}
	c.metrics.IncrementProposalOutcome(string(p.Kind), string(p.State))
	c.logger.InfoContext(ctx, "proposal ended",
		"proposal_id", p.ID, "kind", p.Kind, "state", p.State, "reason", p.RejectReason)
	return p, []event{{eventChanged, p.Clone()}, {eventRejected, p.Clone()}}, nil
}

// Reevaluate re-applies the threshold rule to persisted state. Used when
// resuming after a restart.
func (c *Coordinator) Reevaluate(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	c.mu.Lock()
	p, events, err := c.reevaluate(ctx, id)
	c.mu.Unlock()
	c.fire(ctx, events)
	return p, err
}

func (c *Coordinator) reevaluate(ctx context.Context, id domain.ProposalID) (*models.Proposal, []event, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	group, err := c.group(ctx, p.GroupID)
	if err != nil {
		return nil, nil, err
	}
	accepted, err := c.evaluate(ctx, group, p)
	if err != nil || !accepted {
		return p, nil, err
	}
	if err := c.update(ctx, p); err != nil {
		return nil, nil, err
	}
	return p, []event{{eventChanged, p.Clone()}, {eventAccepted, p.Clone()}}, nil
}

// MissingArtifact reports whether the proposal's artifact is gone from the
// local store. It is display-only and never changes the proposal.
func (c *Coordinator) MissingArtifact(ctx context.Context, id domain.ProposalID) (bool, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return false, err
	}
	return c.missing(ctx, p)
}

func (c *Coordinator) missing(ctx context.Context, p *models.Proposal) (bool, error) {
	if p.ArtifactRef == "" || c.artifacts == nil {
		return false, nil
	}
	ok, err := c.artifacts.HasArtifact(ctx, p.Kind, p.ArtifactRef)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up artifact")
	}
	return !ok, nil
}

// Status derives the read model for a proposal.
func (c *Coordinator) Status(ctx context.Context, id domain.ProposalID) (*models.ProposalStatus, error) {
	p, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.status(ctx, p)
}

func (c *Coordinator) status(ctx context.Context, p *models.Proposal) (*models.ProposalStatus, error) {
	group, err := c.group(ctx, p.GroupID)
	if err != nil {
		return nil, err
	}
	members, err := c.members.Members(ctx, p.GroupID)
	if err != nil {
		return nil, err
	}
	joined := threshold.JoinedCount(members)
	missing, err := c.missing(ctx, p)
	if err != nil {
		return nil, err
	}
	k := group.ThresholdFor(p.Kind)
	return &models.ProposalStatus{
		Proposal:        p,
		Threshold:       k,
		JoinedCount:     joined,
		Reached:         k > 0 && threshold.Reached(k, joined),
		MissingArtifact: missing,
		Stage:           models.StageOf(p),
	}, nil
}

// Current returns the status of the group's active proposal or, failing
// that, its most recent one. It returns nil when the group has none.
func (c *Coordinator) Current(ctx context.Context, groupID domain.GroupID) (*models.ProposalStatus, error) {
	all, err := c.List(ctx, groupID)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	current := all[len(all)-1]
	for _, p := range all {
		if p.State.IsActive() {
			current = p
		}
	}
	return c.status(ctx, current)
}

func (c *Coordinator) Get(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	return c.load(ctx, id)
}

func (c *Coordinator) ByCorrelation(ctx context.Context, corr domain.CorrelationID) (*models.Proposal, error) {
	p, err := c.proposals.FindProposalByCorrelation(ctx, corr)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// Active returns the group's active proposal, or a not-found error.
func (c *Coordinator) Active(ctx context.Context, groupID domain.GroupID) (*models.Proposal, error) {
	p, err := c.proposals.FindActiveProposal(ctx, groupID)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (c *Coordinator) List(ctx context.Context, groupID domain.GroupID) ([]*models.Proposal, error) {
	all, err := c.proposals.ListProposals(ctx, groupID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list proposals")
	}
	return all, nil
}

func (c *Coordinator) message(ctx context.Context, group *models.GroupIdentifier, p *models.Proposal, artifactRef string) (ports.ProposalMessage, error) {
	members, err := c.members.Members(ctx, group.ID)
	if err != nil {
		return ports.ProposalMessage{}, err
	}
	recipients := make([]domain.AID, 0, len(members))
	for _, m := range members {
		if m.MemberID != group.LocalMemberID {
			recipients = append(recipients, m.MemberID)
		}
	}
	return ports.ProposalMessage{
		GroupID:            group.ID,
		GroupCorrelationID: group.CorrelationID,
		CorrelationID:      p.CorrelationID,
		Kind:               p.Kind,
		ArtifactRef:        artifactRef,
		LocalMember:        group.LocalMemberID,
		Recipients:         recipients,
	}, nil
}

func (c *Coordinator) ensureNoActive(ctx context.Context, groupID domain.GroupID) error {
	_, err := c.proposals.FindActiveProposal(ctx, groupID)
	switch {
	case err == nil:
		return dErrors.Wrap(models.ErrProposalActive, dErrors.CodeConflict, "group already has an active proposal")
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active proposal")
	}
}

func (c *Coordinator) create(ctx context.Context, p *models.Proposal) error {
	if err := c.proposals.CreateProposal(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(models.ErrProposalActive, dErrors.CodeConflict, "group already has an active proposal")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store proposal")
	}
	return nil
}

func (c *Coordinator) update(ctx context.Context, p *models.Proposal) error {
	if err := c.proposals.UpdateProposal(ctx, p); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store proposal")
	}
	return nil
}

func (c *Coordinator) load(ctx context.Context, id domain.ProposalID) (*models.Proposal, error) {
	p, err := c.proposals.FindProposal(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (c *Coordinator) group(ctx context.Context, id domain.GroupID) (*models.GroupIdentifier, error) {
	g, err := c.groups.FindGroup(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(models.ErrUnknownGroup, dErrors.CodeNotFound, "group not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}
	return g, nil
}

func notFound(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(models.ErrUnknownProposal, dErrors.CodeNotFound, "proposal not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proposal")
}

// fire runs hooks outside the coordinator lock so they may call back in.
func (c *Coordinator) fire(ctx context.Context, events []event) {
	if len(events) == 0 {
		return
	}
	c.hooksMu.RLock()
	changed, accepted, rejected := c.onChanged, c.onAccepted, c.onRejected
	c.hooksMu.RUnlock()

	for _, ev := range events {
		var hooks []Hook
		switch ev.kind {
		case eventChanged:
			hooks = changed
		case eventAccepted:
			hooks = accepted
		case eventRejected:
			hooks = rejected
		}
		for _, h := range hooks {
			h(ctx, ev.proposal)
		}
	}
}
