package models

import "veridian/pkg/domain"

// MemberInfo is one participant of a group. Joined is scoped to the group's
// current proposal, not to membership itself.
type MemberInfo struct {
	GroupID     domain.GroupID `json:"group_id"`
	MemberID    domain.AID     `json:"member_id"`
	DisplayName string         `json:"display_name"`
	Joined      bool           `json:"joined"`
	IsLocal     bool           `json:"is_local"`
}

// MemberRef is the identity of a participant before it is attached to a group.
type MemberRef struct {
	ID   domain.AID `json:"id"`
	Name string     `json:"name"`
}

// PendingMember is a membership candidate parsed from an invitation. It has
// not joined anything yet.
type PendingMember struct {
	Member        MemberRef            `json:"member"`
	CorrelationID domain.CorrelationID `json:"correlation_id,omitempty"`
	GroupName     string               `json:"group_name,omitempty"`
	URL           string               `json:"url"`
}

// AsMember turns the candidate into a not-yet-joined MemberInfo.
func (p PendingMember) AsMember(groupID domain.GroupID) *MemberInfo {
	return &MemberInfo{
		GroupID:     groupID,
		MemberID:    p.Member.ID,
		DisplayName: p.Member.Name,
	}
}

// GroupView joins a group with its ordered members and current proposal. It
// is the read model the presentation layer observes.
type GroupView struct {
	Group    *GroupIdentifier `json:"group"`
	Members  []*MemberInfo    `json:"members"`
	Proposal *ProposalStatus  `json:"proposal,omitempty"`
}

// MemberIDs returns member ids in declared order.
func (v *GroupView) MemberIDs() []domain.AID {
	ids := make([]domain.AID, 0, len(v.Members))
	for _, m := range v.Members {
		ids = append(ids, m.MemberID)
	}
	return ids
}
