// Package lifecycle owns the formation state machine of group identifiers
// and is the intent surface the presentation layer talks to.
//
//	Uninitiated -> AwaitingMembers -> ThresholdConfigured -> PendingCreation -> Complete
//	any non-terminal state -> Failed(reason)
//
// Failures are terminal for the attempt; the user abandons the group and
// starts over. The controller is the only writer of lifecycle state.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veridian/internal/multisig/habname"
	"veridian/internal/multisig/metrics"
	"veridian/internal/multisig/models"
	"veridian/internal/multisig/oobi"
	"veridian/internal/multisig/ports"
	"veridian/internal/multisig/proposal"
	"veridian/internal/multisig/threshold"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
	"veridian/pkg/platform/sentinel"
	pstrings "veridian/pkg/platform/strings"
)

// MaxDisplayNameLength bounds group and member display names, in runes.
const MaxDisplayNameLength = 32

type GroupStore interface {
	CreateGroup(ctx context.Context, g *models.GroupIdentifier) error
	UpdateGroup(ctx context.Context, g *models.GroupIdentifier) error
	FindGroup(ctx context.Context, id domain.GroupID) (*models.GroupIdentifier, error)
	FindGroupByCorrelation(ctx context.Context, corr domain.CorrelationID) (*models.GroupIdentifier, error)
	ListGroups(ctx context.Context) ([]*models.GroupIdentifier, error)
	DeleteGroup(ctx context.Context, id domain.GroupID) error
}

type Membership interface {
	RegisterMembers(ctx context.Context, groupID domain.GroupID, members []*models.MemberInfo) error
	Members(ctx context.Context, groupID domain.GroupID) ([]*models.MemberInfo, error)
}

type Proposals interface {
	Open(ctx context.Context, groupID domain.GroupID, kind models.ProposalKind) (*models.Proposal, error)
	OpenRemote(ctx context.Context, groupID domain.GroupID, kind models.ProposalKind, corr domain.CorrelationID, initiator domain.AID, artifact string) (*models.Proposal, error)
	SelectArtifact(ctx context.Context, id domain.ProposalID, artifactRef string) (*models.Proposal, error)
	LocalAccept(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	ApplyMemberAcceptance(ctx context.Context, id domain.ProposalID, member domain.AID) (*models.Proposal, error)
	Decline(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	Reevaluate(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	Active(ctx context.Context, groupID domain.GroupID) (*models.Proposal, error)
	List(ctx context.Context, groupID domain.GroupID) ([]*models.Proposal, error)
	Current(ctx context.Context, groupID domain.GroupID) (*models.ProposalStatus, error)
	OnAccepted(h proposal.Hook)
	OnRejected(h proposal.Hook)
}

type Invitations interface {
	Generate(ctx context.Context, aid domain.AID, params oobi.Params) (string, error)
}

// Controller orchestrates group formation.
type Controller struct {
	groups      GroupStore
	members     Membership
	proposals   Proposals
	agent       ports.InceptionAgent
	invitations Invitations
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time

	// mu guards read-modify-write of group records. It is never held across
	// proposal calls, whose hooks re-enter the controller.
	mu sync.Mutex
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New builds a Controller and subscribes it to proposal outcomes.
func New(groups GroupStore, members Membership, proposals Proposals, agent ports.InceptionAgent, invitations Invitations, opts ...Option) *Controller {
	c := &Controller{
		groups:      groups,
		members:     members,
		proposals:   proposals,
		agent:       agent,
		invitations: invitations,
		logger:      slog.Default(),
		tracer:      otel.Tracer("veridian/multisig/lifecycle"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	proposals.OnAccepted(c.proposalAccepted)
	proposals.OnRejected(c.proposalRejected)
	return c
}

// CreateGroup starts formation with the local member as initiator.
func (c *Controller) CreateGroup(ctx context.Context, displayName string, local models.MemberRef) (*models.GroupView, error) {
	name, err := c.validDisplayName(ctx, displayName, domain.GroupID{})
	if err != nil {
		return nil, err
	}
	localID, err := domain.ParseAID(string(local.ID))
	if err != nil {
		return nil, err
	}

	now := c.now()
	g := models.NewGroup(domain.NewGroupCorrelationID(), localID, true, now)
	g.DisplayName = name
	if err := c.advance(g, models.StateAwaitingMembers); err != nil {
		return nil, err
	}
	if err := c.groups.CreateGroup(ctx, g); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store group")
	}
	if err := c.members.RegisterMembers(ctx, g.ID, []*models.MemberInfo{
		{MemberID: localID, DisplayName: memberName(local)},
	}); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "group created", "group_id", g.ID, "correlation_id", g.CorrelationID)
	return c.View(ctx, g.ID)
}

// JoinGroup records a group we were invited into. The inception proposal
// waits for the initiator's artifact, which arrives as a notification.
func (c *Controller) JoinGroup(ctx context.Context, invitation string, local models.MemberRef) (*models.GroupView, error) {
	pm, err := oobi.Parse(invitation)
	if err != nil {
		return nil, err
	}
	if pm.CorrelationID == "" {
		return nil, dErrors.Wrap(models.ErrInvalidInvitation, dErrors.CodeValidation, "invitation is not a group invitation")
	}
	localID, err := domain.ParseAID(string(local.ID))
	if err != nil {
		return nil, err
	}
	if pm.Member.ID == localID {
		return nil, dErrors.Wrap(models.ErrDuplicateMember, dErrors.CodeValidation, "cannot join a group through our own invitation")
	}

	if existing, err := c.groups.FindGroupByCorrelation(ctx, pm.CorrelationID); err == nil {
		return c.View(ctx, existing.ID)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}

	g := models.NewGroup(pm.CorrelationID, localID, false, c.now())
	g.ProposedDisplayName = pstrings.NormalizeName(pm.GroupName)
	if err := c.advance(g, models.StateAwaitingMembers); err != nil {
		return nil, err
	}
	if err := c.groups.CreateGroup(ctx, g); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "group already joined")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store group")
	}
	if err := c.members.RegisterMembers(ctx, g.ID, []*models.MemberInfo{
		pm.AsMember(g.ID),
		{MemberID: localID, DisplayName: memberName(local)},
	}); err != nil {
		return nil, err
	}
	if _, err := c.proposals.OpenRemote(ctx, g.ID, models.KindInception, g.CorrelationID, pm.Member.ID, ""); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "group joined", "group_id", g.ID, "correlation_id", g.CorrelationID, "initiator", pm.Member.ID)
	return c.View(ctx, g.ID)
}

// AdoptRemoteInception folds the initiator's inception proposal into local
// state: members, thresholds, and a Proposed inception carrying the
// initiator's acceptance. Re-adopting the same inception is a no-op.
func (c *Controller) AdoptRemoteInception(ctx context.Context, in models.RemoteInception) (*models.GroupIdentifier, error) {
	g, err := c.adoptGroup(ctx, in)
	if err != nil || g.Initiator || g.State.IsTerminal() {
		return g, err
	}

	members := make([]*models.MemberInfo, 0, len(in.Members))
	for _, m := range in.Members {
		members = append(members, &models.MemberInfo{MemberID: m.ID, DisplayName: memberName(m)})
	}
	if err := c.members.RegisterMembers(ctx, g.ID, members); err != nil {
		return nil, err
	}

	g, err = c.mutate(ctx, g.ID, func(g *models.GroupIdentifier) error {
		if g.State.IsTerminal() {
			return nil
		}
		g.SigningThreshold = in.SigningThreshold
		g.RotationThreshold = in.RotationThreshold
		if g.DisplayName == "" && in.DisplayName != "" {
			g.ProposedDisplayName = in.DisplayName
		}
		for g.State != models.StatePendingCreation {
			if err := c.advance(g, nextState(g.State)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p, err := c.proposals.OpenRemote(ctx, g.ID, models.KindInception, in.CorrelationID, in.Initiator, in.ArtifactRef)
	if err != nil {
		return nil, err
	}
	// The initiator signed the inception it sent.
	if _, err := c.proposals.ApplyMemberAcceptance(ctx, p.ID, in.Initiator); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "inception adopted", "group_id", g.ID, "correlation_id", in.CorrelationID,
		"members", len(in.Members), "threshold", in.SigningThreshold)
	return g, nil
}

func (c *Controller) adoptGroup(ctx context.Context, in models.RemoteInception) (*models.GroupIdentifier, error) {
	g, err := c.groups.FindGroupByCorrelation(ctx, in.CorrelationID)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}
	if in.LocalMember == "" {
		return nil, dErrors.Wrap(models.ErrUnknownGroup, dErrors.CodeNotFound, "no local group for inception")
	}

	g = models.NewGroup(in.CorrelationID, in.LocalMember, false, c.now())
	if err := c.advance(g, models.StateAwaitingMembers); err != nil {
		return nil, err
	}
	if err := c.groups.CreateGroup(ctx, g); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return c.groups.FindGroupByCorrelation(ctx, in.CorrelationID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store group")
	}
	return g, nil
}

// AddMember adds an invited peer to a group under formation.
func (c *Controller) AddMember(ctx context.Context, groupID domain.GroupID, invitation string) (*models.GroupView, error) {
	pm, err := oobi.Parse(invitation)
	if err != nil {
		return nil, err
	}
	g, err := c.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := formingByInitiator(g); err != nil {
		return nil, err
	}

	members, err := c.members.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.MemberID == pm.Member.ID {
			return nil, dErrors.Wrap(models.ErrDuplicateMember, dErrors.CodeValidation, "member already added")
		}
		if pstrings.FoldKey(m.DisplayName) == pstrings.FoldKey(pm.Member.Name) {
			return nil, dErrors.Wrap(models.ErrDuplicateDisplayName, dErrors.CodeValidation, "another member uses the name "+pm.Member.Name)
		}
	}
	if err := c.members.RegisterMembers(ctx, groupID, append(members, pm.AsMember(groupID))); err != nil {
		return nil, err
	}

	if _, err := c.mutate(ctx, groupID, func(g *models.GroupIdentifier) error {
		return c.reconcileThreshold(g, len(members)+1)
	}); err != nil {
		return nil, err
	}
	return c.View(ctx, groupID)
}

// SetThreshold configures K and the rotation threshold; rotation defaults
// to K. The group becomes ThresholdConfigured once it has at least K
// members.
func (c *Controller) SetThreshold(ctx context.Context, groupID domain.GroupID, signing, rotation int) (*models.GroupView, error) {
	if signing <= 0 || rotation < 0 {
		return nil, dErrors.Wrap(models.ErrInvalidThreshold, dErrors.CodeValidation, "thresholds must be positive")
	}
	if rotation == 0 {
		rotation = signing
	}
	members, err := c.members.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}

	_, err = c.mutate(ctx, groupID, func(g *models.GroupIdentifier) error {
		if err := formingByInitiator(g); err != nil {
			return err
		}
		if g.State == models.StateThresholdConfigured && max(signing, rotation) > len(members) {
			return dErrors.Wrap(models.ErrThresholdExceedsMembers, dErrors.CodeConfiguration, "threshold exceeds member count")
		}
		g.SigningThreshold = signing
		g.RotationThreshold = rotation
		return c.reconcileThreshold(g, len(members))
	})
	if err != nil {
		return nil, err
	}
	return c.View(ctx, groupID)
}

func (c *Controller) reconcileThreshold(g *models.GroupIdentifier, members int) error {
	if g.State != models.StateAwaitingMembers || g.SigningThreshold <= 0 {
		return nil
	}
	if max(g.SigningThreshold, g.RotationThreshold) > members {
		return nil
	}
	return c.advance(g, models.StateThresholdConfigured)
}

// Finalize asks the agent for the group inception and opens the inception
// proposal. Threshold problems are caught before the agent is called; any
// agent failure fails the group.
func (c *Controller) Finalize(ctx context.Context, groupID domain.GroupID) (view *models.GroupView, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Finalize", trace.WithAttributes(
		attribute.String("group.id", groupID.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	g, err := c.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := formingByInitiator(g); err != nil {
		return nil, err
	}
	if g.SigningThreshold <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidState, "threshold is not configured")
	}
	members, err := c.members.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, k := range []int{g.SigningThreshold, g.RotationThreshold} {
		if err := threshold.Validate(k, len(members)); err != nil {
			if _, ferr := c.MarkFailed(ctx, groupID, models.ReasonThresholdExceedsMembers); ferr != nil {
				c.logger.ErrorContext(ctx, "failed to mark group failed", "group_id", groupID, "error", ferr)
			}
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "threshold exceeds member count")
		}
	}
	if g.State != models.StateThresholdConfigured {
		return nil, dErrors.New(dErrors.CodeInvalidState, "group is "+string(g.State))
	}

	req, err := c.inceptionRequest(g, members)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	result, err := c.agent.CreateGroupInception(ctx, req)
	c.metrics.ObserveAgent("inception", start)
	if err != nil {
		reason, code := failureReason(err)
		if _, ferr := c.MarkFailed(ctx, groupID, reason); ferr != nil {
			c.logger.ErrorContext(ctx, "failed to mark group failed", "group_id", groupID, "error", ferr)
		}
		return nil, dErrors.Wrap(err, code, "agent rejected the group inception")
	}

	if _, err := c.mutate(ctx, groupID, func(g *models.GroupIdentifier) error {
		g.GroupAID = result.GroupAID
		return c.advance(g, models.StatePendingCreation)
	}); err != nil {
		return nil, err
	}

	p, err := c.proposals.Open(ctx, groupID, models.KindInception)
	if err != nil {
		return nil, err
	}
	if p, err = c.proposals.SelectArtifact(ctx, p.ID, result.ArtifactRef); err != nil {
		return nil, err
	}
	if _, err := c.proposals.LocalAccept(ctx, p.ID); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "group inception proposed", "group_id", groupID, "group_aid", result.GroupAID,
		"members", len(members), "threshold", g.SigningThreshold)
	return c.View(ctx, groupID)
}

func (c *Controller) inceptionRequest(g *models.GroupIdentifier, members []*models.MemberInfo) (ports.InceptionRequest, error) {
	ids := make([]domain.AID, 0, len(members))
	userName := ""
	for _, m := range members {
		ids = append(ids, m.MemberID)
		if m.MemberID == g.LocalMemberID {
			userName = habSafe(m.DisplayName)
		}
	}
	hab, err := habname.Format(habname.Parts{
		DisplayName:   g.Name(),
		IsGroupMember: true,
		GroupID:       string(g.CorrelationID),
		IsInitiator:   g.Initiator,
		UserName:      userName,
	})
	if err != nil {
		return ports.InceptionRequest{}, dErrors.Wrap(err, dErrors.CodeValidation, "group name cannot be encoded")
	}
	return ports.InceptionRequest{
		GroupID:           g.ID,
		CorrelationID:     g.CorrelationID,
		LocalMember:       g.LocalMemberID,
		MemberHabName:     hab,
		GroupName:         g.Name(),
		Members:           ids,
		SigningThreshold:  g.SigningThreshold,
		RotationThreshold: g.RotationThreshold,
	}, nil
}

func failureReason(err error) (models.FailureReason, dErrors.Code) {
	switch {
	case errors.Is(err, ports.ErrInsufficientWitnesses):
		return models.ReasonInsufficientWitnesses, dErrors.CodeConfiguration
	case errors.Is(err, ports.ErrMisconfiguredBackend):
		return models.ReasonMisconfiguredBackend, dErrors.CodeConfiguration
	}
	return models.ReasonAgentUnavailable, dErrors.CodeUnavailable
}

// MarkFailed moves a non-terminal group to Failed. Failing a failed group
// is a no-op.
func (c *Controller) MarkFailed(ctx context.Context, groupID domain.GroupID, reason models.FailureReason) (*models.GroupIdentifier, error) {
	return c.mutate(ctx, groupID, func(g *models.GroupIdentifier) error {
		return c.fail(ctx, g, reason)
	})
}

func (c *Controller) fail(ctx context.Context, g *models.GroupIdentifier, reason models.FailureReason) error {
	if g.State == models.StateFailed {
		return nil
	}
	if err := g.Fail(reason, c.now()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "group is "+string(g.State))
	}
	c.metrics.IncrementGroupTransition(string(models.StateFailed))
	c.metrics.IncrementGroupFailure(string(reason))
	c.logger.WarnContext(ctx, "group formation failed", "group_id", g.ID, "reason", reason)
	return nil
}

// Abandon declines the active proposal and deletes the group with its
// members and proposals.
func (c *Controller) Abandon(ctx context.Context, groupID domain.GroupID) error {
	if _, err := c.load(ctx, groupID); err != nil {
		return err
	}
	active, err := c.proposals.Active(ctx, groupID)
	switch {
	case err == nil:
		// The local records go regardless; a failed withdraw only means
		// peers are not told.
		if _, err := c.proposals.Decline(ctx, active.ID); err != nil {
			c.logger.WarnContext(ctx, "failed to withdraw proposal of abandoned group",
				"group_id", groupID, "proposal_id", active.ID, "error", err)
		}
	case !errors.Is(err, models.ErrUnknownProposal):
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.groups.DeleteGroup(ctx, groupID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete group")
	}
	c.logger.InfoContext(ctx, "group abandoned", "group_id", groupID)
	return nil
}

// ProposeDisplayName records a name awaiting confirmation.
func (c *Controller) ProposeDisplayName(ctx context.Context, groupID domain.GroupID, name string) (*models.GroupView, error) {
	valid, err := c.validDisplayName(ctx, name, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := c.mutate(ctx, groupID, func(g *models.GroupIdentifier) error {
		if g.State == models.StateFailed {
			return dErrors.New(dErrors.CodeInvalidState, "group has failed")
		}
		g.ProposedDisplayName = valid
		g.UpdatedAt = c.now()
		return nil
	}); err != nil {
		return nil, err
	}
	return c.View(ctx, groupID)
}

// ConfirmDisplayName promotes the proposed name, or override when given, to
// the group's display name.
func (c *Controller) ConfirmDisplayName(ctx context.Context, groupID domain.GroupID, override string) (*models.GroupView, error) {
	g, err := c.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	name := override
	if strings.TrimSpace(name) == "" {
		name = g.ProposedDisplayName
	}
	valid, err := c.validDisplayName(ctx, name, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := c.mutate(ctx, groupID, func(g *models.GroupIdentifier) error {
		g.DisplayName = valid
		g.ProposedDisplayName = ""
		g.UpdatedAt = c.now()
		return nil
	}); err != nil {
		return nil, err
	}
	return c.View(ctx, groupID)
}

// Resume reconciles a group's lifecycle state from its persisted group,
// member and proposal records after a restart.
func (c *Controller) Resume(ctx context.Context, groupID domain.GroupID) (*models.GroupView, error) {
	g, err := c.load(ctx, groupID)
	if err != nil {
		return nil, err
	}

	switch g.State {
	case models.StateAwaitingMembers:
		members, err := c.members.Members(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if _, err := c.mutate(ctx, groupID, func(g *models.GroupIdentifier) error {
			return c.reconcileThreshold(g, len(members))
		}); err != nil {
			return nil, err
		}
	case models.StatePendingCreation:
		if err := c.resumePending(ctx, g); err != nil {
			return nil, err
		}
	case models.StateComplete:
		if active, err := c.proposals.Active(ctx, groupID); err == nil && active.State == models.ProposalProposed {
			if _, err := c.proposals.Reevaluate(ctx, active.ID); err != nil {
				return nil, err
			}
		}
	}
	return c.View(ctx, groupID)
}

func (c *Controller) resumePending(ctx context.Context, g *models.GroupIdentifier) error {
	all, err := c.proposals.List(ctx, g.ID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(all, func(p *models.Proposal) bool { return p.Kind == models.KindInception })
	if idx < 0 {
		_, err := c.MarkFailed(ctx, g.ID, models.ReasonInterrupted)
		return err
	}

	inception := all[idx]
	switch inception.State {
	case models.ProposalAccepted:
		c.proposalAccepted(ctx, inception)
	case models.ProposalRejected, models.ProposalExpired:
		c.proposalRejected(ctx, inception)
	case models.ProposalProposed:
		if _, err := c.proposals.Reevaluate(ctx, inception.ID); err != nil {
			return err
		}
	case models.ProposalDraft:
		// The agent call finished but the artifact was never recorded.
		_, err := c.MarkFailed(ctx, g.ID, models.ReasonInterrupted)
		return err
	}
	return nil
}

// ResumeAll resumes every stored group. One group failing to resume does
// not stop the others.
func (c *Controller) ResumeAll(ctx context.Context) ([]*models.GroupView, error) {
	groups, err := c.groups.ListGroups(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list groups")
	}
	views := make([]*models.GroupView, 0, len(groups))
	for _, g := range groups {
		view, err := c.Resume(ctx, g.ID)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to resume group", "group_id", g.ID, "error", err)
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

// Invitation returns the local member's invitation for a group.
func (c *Controller) Invitation(ctx context.Context, groupID domain.GroupID) (string, error) {
	g, err := c.load(ctx, groupID)
	if err != nil {
		return "", err
	}
	members, err := c.members.Members(ctx, groupID)
	if err != nil {
		return "", err
	}
	name := string(g.LocalMemberID)
	for _, m := range members {
		if m.IsLocal {
			name = m.DisplayName
		}
	}
	return c.invitations.Generate(ctx, g.LocalMemberID, oobi.Params{
		Name:               name,
		GroupCorrelationID: g.CorrelationID,
		GroupName:          g.Name(),
	})
}

// View joins the group with its members and current proposal.
func (c *Controller) View(ctx context.Context, groupID domain.GroupID) (*models.GroupView, error) {
	g, err := c.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members, err := c.members.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	status, err := c.proposals.Current(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &models.GroupView{Group: g, Members: members, Proposal: status}, nil
}

// Groups lists views of every stored group.
func (c *Controller) Groups(ctx context.Context) ([]*models.GroupView, error) {
	groups, err := c.groups.ListGroups(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list groups")
	}
	views := make([]*models.GroupView, 0, len(groups))
	for _, g := range groups {
		view, err := c.View(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (c *Controller) proposalAccepted(ctx context.Context, p *models.Proposal) {
	if p.Kind != models.KindInception {
		return
	}
	_, err := c.mutate(ctx, p.GroupID, func(g *models.GroupIdentifier) error {
		if g.State != models.StatePendingCreation {
			return nil
		}
		if g.GroupAID == "" {
			// Self-addressing group prefixes equal the inception digest.
			g.GroupAID = domain.AID(p.ArtifactRef)
		}
		return c.advance(g, models.StateComplete)
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to complete group", "group_id", p.GroupID, "error", err)
		return
	}
	c.logger.InfoContext(ctx, "group complete", "group_id", p.GroupID)
}

func (c *Controller) proposalRejected(ctx context.Context, p *models.Proposal) {
	if p.Kind != models.KindInception {
		return
	}
	if _, err := c.mutate(ctx, p.GroupID, func(g *models.GroupIdentifier) error {
		if g.State.IsTerminal() {
			return nil
		}
		return c.fail(ctx, g, models.ReasonInceptionRejected)
	}); err != nil && !errors.Is(err, models.ErrUnknownGroup) {
		c.logger.ErrorContext(ctx, "failed to fail group", "group_id", p.GroupID, "error", err)
	}
}

// mutate loads, changes and stores one group under the controller lock.
func (c *Controller) mutate(ctx context.Context, groupID domain.GroupID, fn func(*models.GroupIdentifier) error) (*models.GroupIdentifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := fn(g); err != nil {
		return nil, err
	}
	if err := c.groups.UpdateGroup(ctx, g); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store group")
	}
	return g, nil
}

func (c *Controller) advance(g *models.GroupIdentifier, next models.LifecycleState) error {
	if err := g.Advance(next, c.now()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "cannot move from "+string(g.State)+" to "+string(next))
	}
	c.metrics.IncrementGroupTransition(string(next))
	return nil
}

func (c *Controller) load(ctx context.Context, groupID domain.GroupID) (*models.GroupIdentifier, error) {
	g, err := c.groups.FindGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(models.ErrUnknownGroup, dErrors.CodeNotFound, "group not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}
	return g, nil
}

// validDisplayName normalizes name and checks it against the other groups.
// self is excluded so a group can keep its own name.
func (c *Controller) validDisplayName(ctx context.Context, name string, self domain.GroupID) (string, error) {
	name = pstrings.NormalizeName(name)
	if name == "" {
		return "", dErrors.New(dErrors.CodeValidation, "display name is required")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", dErrors.New(dErrors.CodeValidation, "display name is too long")
	}
	if strings.Contains(name, ":") {
		return "", dErrors.New(dErrors.CodeValidation, "display name cannot contain ':'")
	}

	groups, err := c.groups.ListGroups(ctx)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list groups")
	}
	key := pstrings.FoldKey(name)
	for _, g := range groups {
		if g.ID == self || g.State == models.StateFailed {
			continue
		}
		if pstrings.FoldKey(g.Name()) == key {
			return "", dErrors.Wrap(models.ErrDuplicateDisplayName, dErrors.CodeValidation, "a group named "+name+" already exists")
		}
	}
	return name, nil
}

func formingByInitiator(g *models.GroupIdentifier) error {
	if !g.Initiator {
		return dErrors.New(dErrors.CodeInvalidState, "only the initiator configures the group")
	}
	if g.State != models.StateAwaitingMembers && g.State != models.StateThresholdConfigured {
		return dErrors.New(dErrors.CodeInvalidState, "group is "+string(g.State))
	}
	return nil
}

func nextState(s models.LifecycleState) models.LifecycleState {
	switch s {
	case models.StateUninitiated:
		return models.StateAwaitingMembers
	case models.StateAwaitingMembers:
		return models.StateThresholdConfigured
	case models.StateThresholdConfigured:
		return models.StatePendingCreation
	}
	return models.StateComplete
}

func memberName(m models.MemberRef) string {
	if name := pstrings.NormalizeName(m.Name); name != "" {
		return name
	}
	return string(m.ID)
}

var habReplacer = strings.NewReplacer(":", "", "-", "")

func habSafe(name string) string {
	return habReplacer.Replace(strings.Join(strings.Fields(name), ""))
}
