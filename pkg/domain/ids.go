// Package domain holds the typed identifiers shared by the wallet services.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "veridian/pkg/domain-errors"
)

// GroupID is the local, stable id of a group identifier record.
type GroupID uuid.UUID

// ProposalID is the local id of one group operation.
type ProposalID uuid.UUID

// AID is a self-certifying identifier prefix for a participant or group.
type AID string

// CorrelationID ties notifications from every participant to one proposal
// or to one group under formation. It is shared across participants.
type CorrelationID string

// NotificationID is the stable identity of one inbound notification.
type NotificationID string

const maxAIDLength = 128

func NewGroupID() GroupID       { return GroupID(uuid.New()) }
func NewProposalID() ProposalID { return ProposalID(uuid.New()) }

// NewCorrelationID returns a fresh correlation id for locally initiated work.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// NewGroupCorrelationID returns a dash-free correlation id, safe to embed in
// identifier names that use '-' as a separator.
func NewGroupCorrelationID() CorrelationID {
	return CorrelationID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (id GroupID) String() string    { return uuid.UUID(id).String() }
func (id ProposalID) String() string { return uuid.UUID(id).String() }
func (id GroupID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ProposalID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (a AID) String() string           { return string(a) }
func (c CorrelationID) String() string { return string(c) }

func ParseGroupID(s string) (GroupID, error) {
	u, err := parseUUID(s, "group id")
	return GroupID(u), err
}

func ParseProposalID(s string) (ProposalID, error) {
	u, err := parseUUID(s, "proposal id")
	return ProposalID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be nil")
	}
	return u, nil
}

// ParseAID validates a qualified base64url prefix.
func ParseAID(s string) (AID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "aid is required")
	}
	if len(s) > maxAIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "aid is too long")
	}
	for _, r := range s {
		if !isBase64URL(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "aid contains invalid characters")
		}
	}
	return AID(s), nil
}

func isBase64URL(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

func (id GroupID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id ProposalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

// UnmarshalText accepts any well-formed uuid, including the nil one, so
// zero ids round trip.
func (id *GroupID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid group id")
	}
	*id = GroupID(u)
	return nil
}

func (id *ProposalID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid proposal id")
	}
	*id = ProposalID(u)
	return nil
}
