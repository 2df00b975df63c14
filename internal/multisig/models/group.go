package models

import (
	"time"

	"veridian/pkg/domain"
)

// LifecycleState is the formation stage of a group identifier.
type LifecycleState string

const (
	StateUninitiated         LifecycleState = "uninitiated"
	StateAwaitingMembers     LifecycleState = "awaiting_members"
	StateThresholdConfigured LifecycleState = "threshold_configured"
	StatePendingCreation     LifecycleState = "pending_creation"
	StateComplete            LifecycleState = "complete"
	StateFailed              LifecycleState = "failed"
)

// FailureReason explains a Failed group. Failures are terminal for the
// formation attempt; the user starts over.
type FailureReason string

const (
	ReasonNone                    FailureReason = ""
	ReasonThresholdExceedsMembers FailureReason = "threshold_exceeds_members"
	ReasonInsufficientWitnesses   FailureReason = "insufficient_witnesses"
	ReasonMisconfiguredBackend    FailureReason = "misconfigured_backend"
	ReasonAgentUnavailable        FailureReason = "agent_unavailable"
	ReasonInceptionRejected       FailureReason = "inception_rejected"
	ReasonInterrupted             FailureReason = "interrupted"
)

var lifecycleOrder = map[LifecycleState]int{
	StateUninitiated:         0,
	StateAwaitingMembers:     1,
	StateThresholdConfigured: 2,
	StatePendingCreation:     3,
	StateComplete:            4,
}

// IsTerminal reports whether no further transition is possible.
func (s LifecycleState) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransitionTo enforces forward-only progress through formation. Any
// non-terminal state may fail; staying put is not a transition.
func (s LifecycleState) CanTransitionTo(next LifecycleState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	cur, ok := lifecycleOrder[s]
	if !ok {
		return false
	}
	nxt, ok := lifecycleOrder[next]
	return ok && nxt == cur+1
}

// GroupIdentifier is a multi-signature identifier under formation or
// already formed.
//
// Invariants:
//   - SigningThreshold and RotationThreshold never exceed the member count
//     once the group leaves AwaitingMembers
//   - exactly one participant holds Initiator=true across all instances
//   - Created is true iff State is Complete
//   - FailureReason is set iff State is Failed
//
// The ordered member list lives with the membership registry; GroupView
// joins both for readers.
type GroupIdentifier struct {
	ID                  domain.GroupID       `json:"id"`
	CorrelationID       domain.CorrelationID `json:"correlation_id"`
	LocalMemberID       domain.AID           `json:"local_member_id"`
	GroupAID            domain.AID           `json:"group_aid,omitempty"`
	SigningThreshold    int                  `json:"signing_threshold"`
	RotationThreshold   int                  `json:"rotation_threshold"`
	Initiator           bool                 `json:"initiator"`
	Created             bool                 `json:"created"`
	DisplayName         string               `json:"display_name,omitempty"`
	ProposedDisplayName string               `json:"proposed_display_name,omitempty"`
	State               LifecycleState       `json:"state"`
	FailureReason       FailureReason        `json:"failure_reason,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// NewGroup starts an Uninitiated group record for the local participant.
func NewGroup(correlationID domain.CorrelationID, localMember domain.AID, initiator bool, now time.Time) *GroupIdentifier {
	return &GroupIdentifier{
		ID:            domain.NewGroupID(),
		CorrelationID: correlationID,
		LocalMemberID: localMember,
		Initiator:     initiator,
		State:         StateUninitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Advance moves the group one step forward.
func (g *GroupIdentifier) Advance(next LifecycleState, now time.Time) error {
	if next == StateFailed || !g.State.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	g.State = next
	g.Created = next == StateComplete
	g.UpdatedAt = now
	return nil
}

// Fail moves a non-terminal group to Failed.
func (g *GroupIdentifier) Fail(reason FailureReason, now time.Time) error {
	if !g.State.CanTransitionTo(StateFailed) {
		return ErrInvalidTransition
	}
	g.State = StateFailed
	g.FailureReason = reason
	g.UpdatedAt = now
	return nil
}

// ThresholdFor returns the count a proposal of kind must reach. Rotations
// are satisfied against the prior rotation threshold.
func (g *GroupIdentifier) ThresholdFor(kind ProposalKind) int {
	if kind == KindRotation {
		return g.RotationThreshold
	}
	return g.SigningThreshold
}

// Name returns the confirmed display name, falling back to the proposed one.
func (g *GroupIdentifier) Name() string {
	if g.DisplayName != "" {
		return g.DisplayName
	}
	return g.ProposedDisplayName
}
