package handler

import (
	"strings"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
)

// MemberRequest identifies the local participant.
type MemberRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (m *MemberRequest) parse(field string) (models.MemberRef, error) {
	aid, err := domain.ParseAID(strings.TrimSpace(m.ID))
	if err != nil {
		return models.MemberRef{}, dErrors.Wrap(err, dErrors.CodeValidation, field+".id is not a valid identifier")
	}
	return models.MemberRef{ID: aid, Name: strings.TrimSpace(m.Name)}, nil
}

// CreateGroupRequest is the body of POST /groups.
type CreateGroupRequest struct {
	DisplayName string        `json:"display_name"`
	Member      MemberRequest `json:"member"`

	member models.MemberRef
}

func (r *CreateGroupRequest) Validate() error {
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if r.DisplayName == "" {
		return dErrors.New(dErrors.CodeValidation, "display_name is required")
	}
	m, err := r.Member.parse("member")
	if err != nil {
		return err
	}
	r.member = m
	return nil
}

// JoinGroupRequest is the body of POST /groups/join.
type JoinGroupRequest struct {
	Invitation string        `json:"invitation"`
	Member     MemberRequest `json:"member"`

	member models.MemberRef
}

func (r *JoinGroupRequest) Validate() error {
	r.Invitation = strings.TrimSpace(r.Invitation)
	if r.Invitation == "" {
		return dErrors.New(dErrors.CodeValidation, "invitation is required")
	}
	m, err := r.Member.parse("member")
	if err != nil {
		return err
	}
	r.member = m
	return nil
}

type AddMemberRequest struct {
	Invitation string `json:"invitation"`
}

func (r *AddMemberRequest) Validate() error {
	r.Invitation = strings.TrimSpace(r.Invitation)
	if r.Invitation == "" {
		return dErrors.New(dErrors.CodeValidation, "invitation is required")
	}
	return nil
}

// ThresholdRequest sets the group thresholds. Rotation defaults to signing.
type ThresholdRequest struct {
	Signing  int `json:"signing"`
	Rotation int `json:"rotation"`
}

func (r *ThresholdRequest) Validate() error {
	if r.Signing <= 0 {
		return dErrors.New(dErrors.CodeValidation, "signing must be positive")
	}
	if r.Rotation < 0 {
		return dErrors.New(dErrors.CodeValidation, "rotation must not be negative")
	}
	return nil
}

// DisplayNameRequest proposes a name, or confirms the proposed one (with an
// optional override) when Confirm is set.
type DisplayNameRequest struct {
	Name    string `json:"name"`
	Confirm bool   `json:"confirm"`
}

func (r *DisplayNameRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if !r.Confirm && r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

type OpenProposalRequest struct {
	Kind string `json:"kind"`

	kind models.ProposalKind
}

func (r *OpenProposalRequest) Validate() error {
	k := models.ProposalKind(strings.ToLower(strings.TrimSpace(r.Kind)))
	if !k.Valid() || k == models.KindInception {
		return dErrors.New(dErrors.CodeValidation, "kind must be rotation or offer")
	}
	r.kind = k
	return nil
}

type ArtifactRequest struct {
	Artifact string `json:"artifact"`
}

func (r *ArtifactRequest) Validate() error {
	r.Artifact = strings.TrimSpace(r.Artifact)
	if r.Artifact == "" {
		return dErrors.New(dErrors.CodeValidation, "artifact is required")
	}
	return nil
}

type CredentialRequest struct {
	ID string `json:"id"`
}

func (r *CredentialRequest) Validate() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	return nil
}
