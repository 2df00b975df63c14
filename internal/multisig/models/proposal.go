package models

import (
	"slices"
	"time"

	"veridian/pkg/domain"
)

// ProposalKind is the group operation a proposal coordinates.
type ProposalKind string

const (
	KindInception ProposalKind = "inception"
	KindRotation  ProposalKind = "rotation"
	KindOffer     ProposalKind = "offer"
)

func (k ProposalKind) Valid() bool {
	switch k {
	case KindInception, KindRotation, KindOffer:
		return true
	}
	return false
}

// ProposalState is the lifecycle of one group operation.
//
// Initiator side: draft -> proposed -> accepted, or rejected/expired.
// Joiner side: awaiting_proposal -> proposed -> accepted, or rejected.
type ProposalState string

const (
	ProposalDraft            ProposalState = "draft"
	ProposalAwaitingProposal ProposalState = "awaiting_proposal"
	ProposalProposed         ProposalState = "proposed"
	ProposalAccepted         ProposalState = "accepted"
	ProposalRejected         ProposalState = "rejected"
	ProposalExpired          ProposalState = "expired"
)

var proposalTransitions = map[ProposalState][]ProposalState{
	ProposalDraft:            {ProposalProposed, ProposalRejected, ProposalExpired},
	ProposalAwaitingProposal: {ProposalProposed, ProposalRejected, ProposalExpired},
	ProposalProposed:         {ProposalAccepted, ProposalRejected, ProposalExpired},
}

func (s ProposalState) IsTerminal() bool {
	return s == ProposalRejected || s == ProposalExpired
}

// IsActive reports whether the proposal still occupies its group's single
// in-flight slot.
func (s ProposalState) IsActive() bool {
	switch s {
	case ProposalDraft, ProposalAwaitingProposal, ProposalProposed:
		return true
	}
	return false
}

// HasArtifact reports whether the state implies a known artifact.
func (s ProposalState) HasArtifact() bool {
	return s == ProposalProposed || s == ProposalAccepted
}

func (s ProposalState) CanTransitionTo(next ProposalState) bool {
	return slices.Contains(proposalTransitions[s], next)
}

// Role is the local participant's part in a proposal.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
)

// RejectReason distinguishes a local decline from an observed withdrawal.
type RejectReason string

const (
	RejectDeclined  RejectReason = "declined"
	RejectWithdrawn RejectReason = "withdrawn"
)

// Proposal is one in-flight group operation.
//
// Invariants:
//   - belongs to exactly one group; at most one active proposal per group
//   - ArtifactRef, once set, never changes
//   - AcceptedBy holds each member at most once, in arrival order
//   - State reaches accepted only from proposed
type Proposal struct {
	ID            domain.ProposalID    `json:"id"`
	GroupID       domain.GroupID       `json:"group_id"`
	Kind          ProposalKind         `json:"kind"`
	CorrelationID domain.CorrelationID `json:"correlation_id"`
	Role          Role                 `json:"role"`
	InitiatorID   domain.AID           `json:"initiator_id,omitempty"`
	ArtifactRef   string               `json:"artifact_ref,omitempty"`
	AcceptedBy    []domain.AID         `json:"accepted_by"`
	LocalAccepted bool                 `json:"local_accepted"`
	State         ProposalState        `json:"state"`
	RejectReason  RejectReason         `json:"reject_reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// NewInitiatorProposal opens a Draft owned by the local participant.
func NewInitiatorProposal(groupID domain.GroupID, kind ProposalKind, corr domain.CorrelationID, local domain.AID, now time.Time) *Proposal {
	return &Proposal{
		ID:            domain.NewProposalID(),
		GroupID:       groupID,
		Kind:          kind,
		CorrelationID: corr,
		Role:          RoleInitiator,
		InitiatorID:   local,
		State:         ProposalDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewJoinerProposal records a proposal started by someone else. Without an
// artifact it waits in AwaitingProposal.
func NewJoinerProposal(groupID domain.GroupID, kind ProposalKind, corr domain.CorrelationID, initiator domain.AID, artifact string, now time.Time) *Proposal {
	p := &Proposal{
		ID:            domain.NewProposalID(),
		GroupID:       groupID,
		Kind:          kind,
		CorrelationID: corr,
		Role:          RoleJoiner,
		InitiatorID:   initiator,
		State:         ProposalAwaitingProposal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if artifact != "" {
		p.ArtifactRef = artifact
		p.State = ProposalProposed
	}
	return p
}

// SetArtifact binds the artifact and moves to Proposed. A second,
// different artifact is refused; repeating the same one is a no-op.
func (p *Proposal) SetArtifact(ref string, now time.Time) (changed bool, err error) {
	if p.ArtifactRef != "" {
		if p.ArtifactRef == ref {
			return false, nil
		}
		return false, ErrProposalAlreadySet
	}
	if !p.State.CanTransitionTo(ProposalProposed) {
		return false, ErrInvalidTransition
	}
	p.ArtifactRef = ref
	p.State = ProposalProposed
	p.UpdatedAt = now
	return true, nil
}

// RecordAcceptance appends member to the acceptance history once.
func (p *Proposal) RecordAcceptance(member domain.AID, local bool, now time.Time) bool {
	if local {
		p.LocalAccepted = true
	}
	if slices.Contains(p.AcceptedBy, member) {
		return false
	}
	p.AcceptedBy = append(p.AcceptedBy, member)
	p.UpdatedAt = now
	return true
}

// Transition moves to next if the state machine allows it.
func (p *Proposal) Transition(next ProposalState, now time.Time) error {
	if !p.State.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	p.State = next
	p.UpdatedAt = now
	return nil
}

// Reject ends the proposal with reason.
func (p *Proposal) Reject(reason RejectReason, now time.Time) error {
	if err := p.Transition(ProposalRejected, now); err != nil {
		return err
	}
	p.RejectReason = reason
	return nil
}

// Clone returns a copy safe to hand across the store boundary.
func (p *Proposal) Clone() *Proposal {
	c := *p
	c.AcceptedBy = slices.Clone(p.AcceptedBy)
	return &c
}

// ProposalStage is the user-facing summary of a proposal.
type ProposalStage string

const (
	StageDraft            ProposalStage = "draft"
	StageAwaitingProposal ProposalStage = "awaiting_proposal"
	StageWaitingForOthers ProposalStage = "waiting_for_others"
	StageThresholdReached ProposalStage = "threshold_reached"
	StageRejected         ProposalStage = "proposal_rejected"
	StageWithdrawn        ProposalStage = "proposal_withdrawn"
	StageExpired          ProposalStage = "proposal_expired"
)

// ProposalStatus is the derived read model for one proposal.
type ProposalStatus struct {
	Proposal        *Proposal     `json:"proposal"`
	Threshold       int           `json:"threshold"`
	JoinedCount     int           `json:"joined_count"`
	Reached         bool          `json:"reached"`
	MissingArtifact bool          `json:"missing_artifact"`
	Stage           ProposalStage `json:"stage"`
}

// StageOf summarizes p for display.
func StageOf(p *Proposal) ProposalStage {
	switch p.State {
	case ProposalDraft:
		return StageDraft
	case ProposalAwaitingProposal:
		return StageAwaitingProposal
	case ProposalProposed:
		return StageWaitingForOthers
	case ProposalAccepted:
		return StageThresholdReached
	case ProposalExpired:
		return StageExpired
	}
	if p.RejectReason == RejectWithdrawn {
		return StageWithdrawn
	}
	return StageRejected
}
