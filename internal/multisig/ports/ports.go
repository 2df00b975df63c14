// Package ports declares the external collaborators of the coordination
// engine: the KERI agent that owns keys and signing, the notification feed,
// and the local credential store.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
)

// Agent-reported failures. Adapters wrap transport errors so the lifecycle
// controller can pick a failure reason.
var (
	ErrInsufficientWitnesses = errors.New("agent: insufficient witnesses")
	ErrMisconfiguredBackend  = errors.New("agent: misconfigured backend")
	ErrAgentUnavailable      = errors.New("agent: unavailable")
)

// InceptionRequest asks the agent to build, sign and send a group inception.
type InceptionRequest struct {
	GroupID           domain.GroupID
	CorrelationID     domain.CorrelationID
	LocalMember       domain.AID
	MemberHabName     string
	GroupName         string
	Members           []domain.AID
	SigningThreshold  int
	RotationThreshold int
}

// InceptionResult identifies the inception event the agent produced.
type InceptionResult struct {
	ArtifactRef string
	GroupAID    domain.AID
}

// ProposalMessage addresses one proposal exchange to the other members.
type ProposalMessage struct {
	GroupID            domain.GroupID
	GroupCorrelationID domain.CorrelationID
	CorrelationID      domain.CorrelationID
	Kind               models.ProposalKind
	ArtifactRef        string
	LocalMember        domain.AID
	Recipients         []domain.AID
}

type InceptionAgent interface {
	CreateGroupInception(ctx context.Context, req InceptionRequest) (InceptionResult, error)
}

type ProposalAgent interface {
	BroadcastProposal(ctx context.Context, msg ProposalMessage) error
	AcceptProposal(ctx context.Context, msg ProposalMessage) error
	WithdrawProposal(ctx context.Context, msg ProposalMessage) error
}

type OOBIProvider interface {
	GetOOBI(ctx context.Context, aid domain.AID) (string, error)
}

// Agent is the full agent surface used by the wallet.
type Agent interface {
	InceptionAgent
	ProposalAgent
	OOBIProvider
}

// NotificationFeed is the agent's paged notification list.
type NotificationFeed interface {
	ListNotifications(ctx context.Context, start, end int) ([]models.InboundNotification, error)
	MarkNotificationRead(ctx context.Context, id domain.NotificationID) error
}

// ArtifactLookup answers whether a proposed artifact is still held locally.
type ArtifactLookup interface {
	HasArtifact(ctx context.Context, kind models.ProposalKind, ref string) (bool, error)
}
