package models

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"

	"veridian/pkg/domain"
)

// Route tags the kind of remote participant action a notification reports.
type Route string

const (
	RouteInceptionProposed Route = "/multisig/icp"
	RouteRotationProposed  Route = "/multisig/rot"
	RouteOfferProposed     Route = "/multisig/exn"
	RouteMemberJoined      Route = "/multisig/join"
	RouteProposalWithdrawn Route = "/multisig/withdraw"
)

// Known reports whether the router has a handler for r.
func (r Route) Known() bool {
	switch r {
	case RouteInceptionProposed, RouteRotationProposed, RouteOfferProposed,
		RouteMemberJoined, RouteProposalWithdrawn:
		return true
	}
	return false
}

// InboundNotification is one event from the external notification feed.
// For inception routes CorrelationID is the group correlation id; for every
// other route it identifies the proposal exchange.
type InboundNotification struct {
	ID            domain.NotificationID `json:"id,omitempty"`
	Route         Route                 `json:"route"`
	SenderID      domain.AID            `json:"sender"`
	RecipientID   domain.AID            `json:"recipient,omitempty"`
	CorrelationID domain.CorrelationID  `json:"correlation_id"`
	Payload       json.RawMessage       `json:"payload,omitempty"`
	ReceivedAt    time.Time             `json:"received_at"`
}

// Identity returns the stable identity used for deduplication. Feeds that
// omit an id get a content hash, so redeliveries of the same event collapse.
func (n *InboundNotification) Identity() domain.NotificationID {
	if n.ID != "" {
		return n.ID
	}
	h := blake3.New()
	for _, part := range [][]byte{
		[]byte(n.Route),
		[]byte(n.SenderID),
		[]byte(n.RecipientID),
		[]byte(n.CorrelationID),
		n.Payload,
	} {
		_, _ = h.Write(part)
		_, _ = h.Write([]byte{0})
	}
	return domain.NotificationID("b3:" + hex.EncodeToString(h.Sum(nil)))
}

// InceptionPayload describes a proposed group inception. Thresholds arrive
// string-encoded from the agent and are normalized before use.
type InceptionPayload struct {
	Name              string      `json:"name"`
	Members           []MemberRef `json:"members"`
	SigningThreshold  string      `json:"kt"`
	RotationThreshold string      `json:"nt"`
	ArtifactRef       string      `json:"d"`
}

// ExchangePayload describes a rotation or credential offer proposal.
type ExchangePayload struct {
	GroupCorrelationID domain.CorrelationID `json:"gid"`
	ArtifactRef        string               `json:"artifact"`
}

// RemoteInception is a validated inception proposal received from the
// group initiator.
type RemoteInception struct {
	CorrelationID     domain.CorrelationID
	Initiator         domain.AID
	LocalMember       domain.AID
	DisplayName       string
	Members           []MemberRef
	SigningThreshold  int
	RotationThreshold int
	ArtifactRef       string
}

// FeedCursor marks how far the agent notification list has been consumed.
// LastNotificationID is the id of the note at NextIndex-1 and detects
// upstream deletions that shift the list.
type FeedCursor struct {
	NextIndex          int                   `json:"next_index" cbor:"1,keyasint"`
	LastNotificationID domain.NotificationID `json:"last_notification_id,omitempty" cbor:"2,keyasint,omitempty"`
}
