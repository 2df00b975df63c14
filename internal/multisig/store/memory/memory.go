// Package memory is the in-process store used by tests and by single-node
// deployments without a database.
package memory

import (
	"context"
	"slices"
	"sync"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
	"veridian/pkg/platform/sentinel"
)

// InMemory keeps groups, members, proposals, and held credentials behind
// one lock so multi-entity reads stay consistent.
type InMemory struct {
	mu          sync.RWMutex
	groups      map[domain.GroupID]*models.GroupIdentifier
	members     map[domain.GroupID][]*models.MemberInfo
	proposals   map[domain.ProposalID]*models.Proposal
	order       []domain.ProposalID
	credentials map[string]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		groups:      make(map[domain.GroupID]*models.GroupIdentifier),
		members:     make(map[domain.GroupID][]*models.MemberInfo),
		proposals:   make(map[domain.ProposalID]*models.Proposal),
		credentials: make(map[string]struct{}),
	}
}

func (s *InMemory) CreateGroup(_ context.Context, g *models.GroupIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.groups {
		if existing.CorrelationID == g.CorrelationID {
			return sentinel.ErrConflict
		}
	}
	c := *g
	s.groups[g.ID] = &c
	return nil
}

func (s *InMemory) UpdateGroup(_ context.Context, g *models.GroupIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; !ok {
		return sentinel.ErrNotFound
	}
	c := *g
	s.groups[g.ID] = &c
	return nil
}

func (s *InMemory) FindGroup(_ context.Context, id domain.GroupID) (*models.GroupIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *g
	return &c, nil
}

func (s *InMemory) FindGroupByCorrelation(_ context.Context, corr domain.CorrelationID) (*models.GroupIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.CorrelationID == corr {
			c := *g
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListGroups returns groups ordered by creation time.
func (s *InMemory) ListGroups(_ context.Context) ([]*models.GroupIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.GroupIdentifier, 0, len(s.groups))
	for _, g := range s.groups {
		c := *g
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *models.GroupIdentifier) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// DeleteGroup removes a group together with its members and proposals.
func (s *InMemory) DeleteGroup(_ context.Context, id domain.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.groups, id)
	delete(s.members, id)
	s.order = slices.DeleteFunc(s.order, func(pid domain.ProposalID) bool {
		if s.proposals[pid].GroupID == id {
			delete(s.proposals, pid)
			return true
		}
		return false
	})
	return nil
}

func (s *InMemory) ReplaceMembers(_ context.Context, groupID domain.GroupID, members []*models.MemberInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*models.MemberInfo, 0, len(members))
	for _, m := range members {
		c := *m
		next = append(next, &c)
	}
	s.members[groupID] = next
	return nil
}

func (s *InMemory) ListMembers(_ context.Context, groupID domain.GroupID) ([]*models.MemberInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.MemberInfo, 0, len(s.members[groupID]))
	for _, m := range s.members[groupID] {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

func (s *InMemory) SetJoined(_ context.Context, groupID domain.GroupID, memberID domain.AID, joined bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[groupID] {
		if m.MemberID == memberID {
			m.Joined = joined
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *InMemory) ResetJoined(_ context.Context, groupID domain.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[groupID] {
		m.Joined = false
	}
	return nil
}

// CreateProposal stores p. A second active proposal for the same group, or
// a reused correlation id, is a conflict.
func (s *InMemory) CreateProposal(_ context.Context, p *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return sentinel.ErrConflict
	}
	for _, existing := range s.proposals {
		if existing.CorrelationID == p.CorrelationID {
			return sentinel.ErrConflict
		}
		if p.State.IsActive() && existing.GroupID == p.GroupID && existing.State.IsActive() {
			return sentinel.ErrConflict
		}
	}
	s.proposals[p.ID] = p.Clone()
	s.order = append(s.order, p.ID)
	return nil
}

func (s *InMemory) UpdateProposal(_ context.Context, p *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *InMemory) FindProposal(_ context.Context, id domain.ProposalID) (*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemory) FindProposalByCorrelation(_ context.Context, corr domain.CorrelationID) (*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.proposals {
		if p.CorrelationID == corr {
			return p.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindActiveProposal(_ context.Context, groupID domain.GroupID) (*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.proposals {
		if p.GroupID == groupID && p.State.IsActive() {
			return p.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListProposals returns a group's proposals oldest first.
func (s *InMemory) ListProposals(_ context.Context, groupID domain.GroupID) ([]*models.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Proposal
	for _, pid := range s.order {
		if p := s.proposals[pid]; p.GroupID == groupID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// SaveCredential records that the wallet holds the credential ref.
func (s *InMemory) SaveCredential(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[ref] = struct{}{}
	return nil
}

func (s *InMemory) DeleteCredential(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, ref)
	return nil
}

// HasArtifact reports whether the artifact behind a proposal is present
// locally. Only offers reference a stored credential; event artifacts live
// with the agent.
func (s *InMemory) HasArtifact(_ context.Context, kind models.ProposalKind, ref string) (bool, error) {
	if kind != models.KindOffer {
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.credentials[ref]
	return ok, nil
}

// SeenSet remembers applied notification identities for the process
// lifetime.
type SeenSet struct {
	mu   sync.Mutex
	seen map[domain.NotificationID]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{seen: make(map[domain.NotificationID]struct{})}
}

func (s *SeenSet) Seen(_ context.Context, id domain.NotificationID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok, nil
}

func (s *SeenSet) MarkSeen(_ context.Context, id domain.NotificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id] = struct{}{}
	return nil
}

// CursorStore keeps the feed cursor in memory; a restart replays the feed
// from the start and dedupe absorbs the repeats.
type CursorStore struct {
	mu     sync.Mutex
	cursor models.FeedCursor
}

func NewCursorStore() *CursorStore {
	return &CursorStore{}
}

func (s *CursorStore) LoadCursor(_ context.Context) (models.FeedCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *CursorStore) SaveCursor(_ context.Context, c models.FeedCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = c
	return nil
}
