package models

import "errors"

// Domain facts of the coordination engine. Services wrap these with a
// domain-errors code so transports and the router can classify them.
var (
	ErrUnknownGroup            = errors.New("unknown group")
	ErrDuplicateMember         = errors.New("duplicate member")
	ErrUnknownMember           = errors.New("unknown member")
	ErrProposalAlreadySet      = errors.New("proposal artifact already set")
	ErrProposalActive          = errors.New("group already has an active proposal")
	ErrProposalNotProposed     = errors.New("proposal has no artifact yet")
	ErrUnknownProposal         = errors.New("unknown proposal")
	ErrStaleNotification       = errors.New("stale notification")
	ErrInvalidInvitation       = errors.New("invalid invitation")
	ErrDuplicateDisplayName    = errors.New("duplicate display name")
	ErrThresholdExceedsMembers = errors.New("threshold exceeds member count")
	ErrInvalidThreshold        = errors.New("invalid threshold")
	ErrInvalidTransition       = errors.New("invalid state transition")
)
