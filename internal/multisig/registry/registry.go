// Package registry is the single writer of group membership and of the
// per-proposal joined flags.
package registry

import (
	"context"
	"errors"
	"log/slog"

	"veridian/internal/multisig/models"
	"veridian/internal/multisig/threshold"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
	"veridian/pkg/platform/sentinel"
	pstrings "veridian/pkg/platform/strings"
)

type GroupReader interface {
	FindGroup(ctx context.Context, id domain.GroupID) (*models.GroupIdentifier, error)
}

type MemberStore interface {
	ReplaceMembers(ctx context.Context, groupID domain.GroupID, members []*models.MemberInfo) error
	ListMembers(ctx context.Context, groupID domain.GroupID) ([]*models.MemberInfo, error)
	SetJoined(ctx context.Context, groupID domain.GroupID, memberID domain.AID, joined bool) error
	ResetJoined(ctx context.Context, groupID domain.GroupID) error
}

// Registry holds the authoritative local view of each group's members.
type Registry struct {
	groups  GroupReader
	members MemberStore
	logger  *slog.Logger
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func New(groups GroupReader, members MemberStore, opts ...Option) *Registry {
	r := &Registry{groups: groups, members: members, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterMembers replaces the member list of a group. Joined flags are
// never taken from the caller: members that stay keep their flag, new
// members start unjoined.
func (r *Registry) RegisterMembers(ctx context.Context, groupID domain.GroupID, members []*models.MemberInfo) error {
	group, err := r.group(ctx, groupID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, string(m.MemberID))
	}
	if dup, ok := pstrings.FirstDuplicate(ids, nil); ok {
		return dErrors.Wrap(models.ErrDuplicateMember, dErrors.CodeValidation, "member "+dup+" is listed twice")
	}

	current, err := r.members.ListMembers(ctx, groupID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load members")
	}
	joined := make(map[domain.AID]bool, len(current))
	for _, m := range current {
		joined[m.MemberID] = m.Joined
	}

	next := make([]*models.MemberInfo, 0, len(members))
	for _, m := range members {
		next = append(next, &models.MemberInfo{
			GroupID:     groupID,
			MemberID:    m.MemberID,
			DisplayName: m.DisplayName,
			Joined:      joined[m.MemberID],
			IsLocal:     m.MemberID == group.LocalMemberID,
		})
	}
	if err := r.members.ReplaceMembers(ctx, groupID, next); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store members")
	}
	return nil
}

// ResetJoinState clears every joined flag; called when a proposal cycle starts.
func (r *Registry) ResetJoinState(ctx context.Context, groupID domain.GroupID) error {
	if _, err := r.group(ctx, groupID); err != nil {
		return err
	}
	if err := r.members.ResetJoined(ctx, groupID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset join state")
	}
	return nil
}

// MarkJoined sets a member's joined flag. Repeating it is a no-op, since
// notifications may be delivered more than once.
func (r *Registry) MarkJoined(ctx context.Context, groupID domain.GroupID, memberID domain.AID) (changed bool, err error) {
	members, err := r.Members(ctx, groupID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.MemberID != memberID {
			continue
		}
		if m.Joined {
			return false, nil
		}
		if err := r.members.SetJoined(ctx, groupID, memberID, true); err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark member joined")
		}
		r.logger.DebugContext(ctx, "member joined", "group_id", groupID, "member_id", memberID)
		return true, nil
	}
	return false, dErrors.Wrap(models.ErrUnknownMember, dErrors.CodeNotFound, "member "+string(memberID)+" is not part of the group")
}

// JoinedCount counts members whose joined flag is set. Flags are per member,
// so the count is de-duplicated by member id.
func (r *Registry) JoinedCount(ctx context.Context, groupID domain.GroupID) (int, error) {
	members, err := r.Members(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return threshold.JoinedCount(members), nil
}

// Members returns the group's members in declared order.
func (r *Registry) Members(ctx context.Context, groupID domain.GroupID) ([]*models.MemberInfo, error) {
	if _, err := r.group(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := r.members.ListMembers(ctx, groupID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load members")
	}
	return members, nil
}

func (r *Registry) group(ctx context.Context, groupID domain.GroupID) (*models.GroupIdentifier, error) {
	group, err := r.groups.FindGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(models.ErrUnknownGroup, dErrors.CodeNotFound, "group not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load group")
	}
	return group, nil
}
