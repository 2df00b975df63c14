package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veridian/internal/multisig/models"
	"veridian/internal/multisig/store/memory"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
)

type RegistrySuite struct {
	suite.Suite
	store    *memory.InMemory
	registry *Registry
	group    *models.GroupIdentifier
	ctx      context.Context
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewInMemory()
	s.registry = New(s.store, s.store)
	s.group = models.NewGroup(domain.NewGroupCorrelationID(), "EAlice", true, time.Now())
	s.Require().NoError(s.store.CreateGroup(s.ctx, s.group))
}

func (s *RegistrySuite) members(ids ...domain.AID) []*models.MemberInfo {
	out := make([]*models.MemberInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.MemberInfo{MemberID: id, DisplayName: string(id)})
	}
	return out
}

func (s *RegistrySuite) TestRegisterMembers() {
	s.Run("stores members in order and marks the local one", func() {
		s.Require().NoError(s.registry.RegisterMembers(s.ctx, s.group.ID, s.members("EAlice", "EBob", "ECarol")))

		got, err := s.registry.Members(s.ctx, s.group.ID)
		s.Require().NoError(err)
		s.Require().Len(got, 3)
		s.True(got[0].IsLocal)
		s.False(got[1].IsLocal)
		s.Equal(domain.AID("ECarol"), got[2].MemberID)
	})

	s.Run("unknown group", func() {
		err := s.registry.RegisterMembers(s.ctx, domain.NewGroupID(), s.members("EAlice"))
		s.ErrorIs(err, models.ErrUnknownGroup)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("duplicate member", func() {
		err := s.registry.RegisterMembers(s.ctx, s.group.ID, s.members("EAlice", "EBob", "EAlice"))
		s.ErrorIs(err, models.ErrDuplicateMember)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("ignores caller joined flags and keeps existing ones", func() {
		s.Require().NoError(s.registry.RegisterMembers(s.ctx, s.group.ID, s.members("EAlice", "EBob")))
		_, err := s.registry.MarkJoined(s.ctx, s.group.ID, "EBob")
		s.Require().NoError(err)

		next := s.members("EAlice", "EBob", "ECarol")
		next[2].Joined = true
		s.Require().NoError(s.registry.RegisterMembers(s.ctx, s.group.ID, next))

		got, _ := s.registry.Members(s.ctx, s.group.ID)
		s.True(got[1].Joined)
		s.False(got[2].Joined)
	})
}

func (s *RegistrySuite) TestMarkJoined() {
	s.Require().NoError(s.registry.RegisterMembers(s.ctx, s.group.ID, s.members("EAlice", "EBob", "ECarol")))

	s.Run("is idempotent", func() {
		changed, err := s.registry.MarkJoined(s.ctx, s.group.ID, "EBob")
		s.Require().NoError(err)
		s.True(changed)

		changed, err = s.registry.MarkJoined(s.ctx, s.group.ID, "EBob")
		s.Require().NoError(err)
		s.False(changed)

		count, err := s.registry.JoinedCount(s.ctx, s.group.ID)
		s.Require().NoError(err)
		s.Equal(1, count)
	})

	s.Run("unknown member", func() {
		_, err := s.registry.MarkJoined(s.ctx, s.group.ID, "EMallory")
		s.ErrorIs(err, models.ErrUnknownMember)
	})
}

func (s *RegistrySuite) TestResetJoinState() {
	s.Require().NoError(s.registry.RegisterMembers(s.ctx, s.group.ID, s.members("EAlice", "EBob")))
	_, err := s.registry.MarkJoined(s.ctx, s.group.ID, "EAlice")
	s.Require().NoError(err)
	_, err = s.registry.MarkJoined(s.ctx, s.group.ID, "EBob")
	s.Require().NoError(err)

	s.Require().NoError(s.registry.ResetJoinState(s.ctx, s.group.ID))
	s.Require().NoError(s.registry.ResetJoinState(s.ctx, s.group.ID))
	s.Require().NoError(s.registry.RegisterMembers(s.ctx, s.group.ID, s.members("EAlice", "EBob")))

	count, err := s.registry.JoinedCount(s.ctx, s.group.ID)
	s.Require().NoError(err)
	s.Equal(0, count)
}
