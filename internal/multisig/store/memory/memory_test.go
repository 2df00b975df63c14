package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
	"veridian/pkg/platform/sentinel"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemorySuite) newGroup() *models.GroupIdentifier {
	g := models.NewGroup(domain.NewGroupCorrelationID(), "EAlice", true, s.now)
	s.Require().NoError(s.store.CreateGroup(s.ctx, g))
	return g
}

func (s *InMemorySuite) TestGroups() {
	s.Run("round trips a group", func() {
		g := s.newGroup()
		found, err := s.store.FindGroup(s.ctx, g.ID)
		s.Require().NoError(err)
		s.Equal(g.CorrelationID, found.CorrelationID)

		byCorr, err := s.store.FindGroupByCorrelation(s.ctx, g.CorrelationID)
		s.Require().NoError(err)
		s.Equal(g.ID, byCorr.ID)
	})

	s.Run("returned copies do not alias storage", func() {
		g := s.newGroup()
		found, err := s.store.FindGroup(s.ctx, g.ID)
		s.Require().NoError(err)
		found.State = models.StateFailed

		again, err := s.store.FindGroup(s.ctx, g.ID)
		s.Require().NoError(err)
		s.Equal(models.StateUninitiated, again.State)
	})

	s.Run("rejects a reused correlation id", func() {
		g := s.newGroup()
		dup := models.NewGroup(g.CorrelationID, "EBob", false, s.now)
		s.ErrorIs(s.store.CreateGroup(s.ctx, dup), sentinel.ErrConflict)
	})

	s.Run("unknown group is not found", func() {
		_, err := s.store.FindGroup(s.ctx, domain.NewGroupID())
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.ErrorIs(s.store.UpdateGroup(s.ctx, models.NewGroup("x", "EAlice", true, s.now)), sentinel.ErrNotFound)
	})
}

func (s *InMemorySuite) TestMembers() {
	g := s.newGroup()
	s.Require().NoError(s.store.ReplaceMembers(s.ctx, g.ID, []*models.MemberInfo{
		{GroupID: g.ID, MemberID: "EAlice"},
		{GroupID: g.ID, MemberID: "EBob"},
	}))

	s.Run("keeps declared order", func() {
		members, err := s.store.ListMembers(s.ctx, g.ID)
		s.Require().NoError(err)
		s.Require().Len(members, 2)
		s.Equal(domain.AID("EAlice"), members[0].MemberID)
		s.Equal(domain.AID("EBob"), members[1].MemberID)
	})

	s.Run("sets and resets joined flags", func() {
		s.Require().NoError(s.store.SetJoined(s.ctx, g.ID, "EBob", true))
		members, _ := s.store.ListMembers(s.ctx, g.ID)
		s.True(members[1].Joined)

		s.Require().NoError(s.store.ResetJoined(s.ctx, g.ID))
		members, _ = s.store.ListMembers(s.ctx, g.ID)
		s.False(members[1].Joined)
	})

	s.Run("unknown member is not found", func() {
		s.ErrorIs(s.store.SetJoined(s.ctx, g.ID, "ECarol", true), sentinel.ErrNotFound)
	})
}

func (s *InMemorySuite) TestProposals() {
	s.Run("allows one active proposal per group", func() {
		g := s.newGroup()
		first := models.NewInitiatorProposal(g.ID, models.KindRotation, domain.NewCorrelationID(), "EAlice", s.now)
		s.Require().NoError(s.store.CreateProposal(s.ctx, first))

		second := models.NewInitiatorProposal(g.ID, models.KindOffer, domain.NewCorrelationID(), "EAlice", s.now)
		s.ErrorIs(s.store.CreateProposal(s.ctx, second), sentinel.ErrConflict)

		s.Require().NoError(first.Reject(models.RejectDeclined, s.now))
		s.Require().NoError(s.store.UpdateProposal(s.ctx, first))
		s.NoError(s.store.CreateProposal(s.ctx, second))

		active, err := s.store.FindActiveProposal(s.ctx, g.ID)
		s.Require().NoError(err)
		s.Equal(second.ID, active.ID)

		all, err := s.store.ListProposals(s.ctx, g.ID)
		s.Require().NoError(err)
		s.Require().Len(all, 2)
		s.Equal(first.ID, all[0].ID)
	})

	s.Run("looks up by correlation", func() {
		g := s.newGroup()
		p := models.NewJoinerProposal(g.ID, models.KindInception, g.CorrelationID, "EBob", "", s.now)
		s.Require().NoError(s.store.CreateProposal(s.ctx, p))

		found, err := s.store.FindProposalByCorrelation(s.ctx, g.CorrelationID)
		s.Require().NoError(err)
		s.Equal(p.ID, found.ID)

		_, err = s.store.FindProposalByCorrelation(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("delete group cascades", func() {
		g := s.newGroup()
		p := models.NewInitiatorProposal(g.ID, models.KindInception, g.CorrelationID, "EAlice", s.now)
		s.Require().NoError(s.store.CreateProposal(s.ctx, p))
		s.Require().NoError(s.store.ReplaceMembers(s.ctx, g.ID, []*models.MemberInfo{{GroupID: g.ID, MemberID: "EAlice"}}))

		s.Require().NoError(s.store.DeleteGroup(s.ctx, g.ID))
		_, err := s.store.FindProposal(s.ctx, p.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		members, _ := s.store.ListMembers(s.ctx, g.ID)
		s.Empty(members)
	})
}

func (s *InMemorySuite) TestCredentials() {
	ok, err := s.store.HasArtifact(s.ctx, models.KindOffer, "Ecred")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.store.SaveCredential(s.ctx, "Ecred"))
	ok, _ = s.store.HasArtifact(s.ctx, models.KindOffer, "Ecred")
	s.True(ok)

	ok, _ = s.store.HasArtifact(s.ctx, models.KindRotation, "Eevent")
	s.True(ok, "event artifacts are held by the agent")

	s.Require().NoError(s.store.DeleteCredential(s.ctx, "Ecred"))
	ok, _ = s.store.HasArtifact(s.ctx, models.KindOffer, "Ecred")
	s.False(ok)
}

func TestCursorStore(t *testing.T) {
	store := NewCursorStore()
	ctx := context.Background()

	c, err := store.LoadCursor(ctx)
	if err != nil || c != (models.FeedCursor{}) {
		t.Fatalf("expected zero cursor, got %+v err=%v", c, err)
	}

	want := models.FeedCursor{NextIndex: 25, LastNotificationID: "note-24"}
	if err := store.SaveCursor(ctx, want); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	if got, _ := store.LoadCursor(ctx); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}
