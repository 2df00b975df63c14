package proposal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"veridian/internal/multisig/models"
	"veridian/internal/multisig/ports"
	"veridian/internal/multisig/ports/mocks"
	"veridian/internal/multisig/registry"
	"veridian/internal/multisig/store/memory"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
)

type CoordinatorSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	agent       *mocks.MockProposalAgent
	store       *memory.InMemory
	registry    *registry.Registry
	coordinator *Coordinator
	ctx         context.Context
	accepted    []*models.Proposal
	rejected    []*models.Proposal
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.agent = mocks.NewMockProposalAgent(s.ctrl)
	s.store = memory.NewInMemory()
	s.registry = registry.New(s.store, s.store)
	s.coordinator = New(s.store, s.store, s.registry, s.agent, s.store)
	s.ctx = context.Background()
	s.accepted = nil
	s.rejected = nil
	s.coordinator.OnAccepted(func(_ context.Context, p *models.Proposal) { s.accepted = append(s.accepted, p) })
	s.coordinator.OnRejected(func(_ context.Context, p *models.Proposal) { s.rejected = append(s.rejected, p) })
}

func (s *CoordinatorSuite) TearDownTest() {
	s.ctrl.Finish()
}

// formedGroup stores a created group of members A, B, C with local as the
// local member and threshold 2.
func (s *CoordinatorSuite) formedGroup(local domain.AID) *models.GroupIdentifier {
	g := models.NewGroup(domain.NewGroupCorrelationID(), local, local == "EA", time.Now())
	g.State = models.StateComplete
	g.Created = true
	g.SigningThreshold = 2
	g.RotationThreshold = 2
	s.Require().NoError(s.store.CreateGroup(s.ctx, g))
	s.Require().NoError(s.registry.RegisterMembers(s.ctx, g.ID, []*models.MemberInfo{
		{MemberID: "EA", DisplayName: "Alice"},
		{MemberID: "EB", DisplayName: "Bob"},
		{MemberID: "EC", DisplayName: "Carol"},
	}))
	return g
}

func (s *CoordinatorSuite) proposedOffer(g *models.GroupIdentifier, credential string) *models.Proposal {
	p, err := s.coordinator.Open(s.ctx, g.ID, models.KindOffer)
	s.Require().NoError(err)
	s.agent.EXPECT().BroadcastProposal(gomock.Any(), gomock.Any()).Return(nil)
	p, err = s.coordinator.SelectArtifact(s.ctx, p.ID, credential)
	s.Require().NoError(err)
	s.Require().Equal(models.ProposalProposed, p.State)
	return p
}

func (s *CoordinatorSuite) joined(g *models.GroupIdentifier) int {
	n, err := s.registry.JoinedCount(s.ctx, g.ID)
	s.Require().NoError(err)
	return n
}

func (s *CoordinatorSuite) TestThresholdScenarios() {
	s.Run("acceptances from two members reach threshold 2", func() {
		g := s.formedGroup("EA")
		s.Require().NoError(s.store.SaveCredential(s.ctx, "Ecredential-x"))
		p := s.proposedOffer(g, "Ecredential-x")

		p, err := s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EB")
		s.Require().NoError(err)
		s.Equal(1, s.joined(g))
		s.Equal(models.ProposalProposed, p.State)

		p, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EC")
		s.Require().NoError(err)
		s.Equal(2, s.joined(g))
		s.Equal(models.ProposalAccepted, p.State)
		s.Equal([]domain.AID{"EB", "EC"}, p.AcceptedBy)
		s.Len(s.accepted, 1)
	})

	s.Run("duplicate acceptance counts once", func() {
		s.accepted = nil
		g := s.formedGroup("EA")
		p := s.proposedOffer(g, "Ecredential-y")

		_, err := s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EC")
		s.Require().NoError(err)
		p, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EC")
		s.Require().NoError(err)
		s.Equal(1, s.joined(g))
		s.Equal(models.ProposalProposed, p.State)

		p, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EB")
		s.Require().NoError(err)
		s.Equal(2, s.joined(g))
		s.Equal(models.ProposalAccepted, p.State)

		p, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EB")
		s.Require().NoError(err)
		s.Equal(models.ProposalAccepted, p.State)
		s.Len(s.accepted, 1, "re-entering accepted is a no-op")
	})

	s.Run("missing local artifact does not block acceptance", func() {
		g := s.formedGroup("EA")
		s.Require().NoError(s.store.SaveCredential(s.ctx, "Ecredential-z"))
		p := s.proposedOffer(g, "Ecredential-z")

		missing, err := s.coordinator.MissingArtifact(s.ctx, p.ID)
		s.Require().NoError(err)
		s.False(missing)

		s.Require().NoError(s.store.DeleteCredential(s.ctx, "Ecredential-z"))
		missing, err = s.coordinator.MissingArtifact(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(missing)

		_, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EB")
		s.Require().NoError(err)
		p, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EC")
		s.Require().NoError(err)
		s.Equal(models.ProposalAccepted, p.State)

		status, err := s.coordinator.Status(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(status.MissingArtifact)
		s.True(status.Reached)
		s.Equal(models.StageThresholdReached, status.Stage)
	})
}

func (s *CoordinatorSuite) TestOpen() {
	s.Run("one active proposal per group", func() {
		g := s.formedGroup("EA")
		_, err := s.coordinator.Open(s.ctx, g.ID, models.KindRotation)
		s.Require().NoError(err)

		_, err = s.coordinator.Open(s.ctx, g.ID, models.KindOffer)
		s.ErrorIs(err, models.ErrProposalActive)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("resets join state for the new cycle", func() {
		g := s.formedGroup("EA")
		_, err := s.registry.MarkJoined(s.ctx, g.ID, "EB")
		s.Require().NoError(err)

		_, err = s.coordinator.Open(s.ctx, g.ID, models.KindOffer)
		s.Require().NoError(err)
		s.Equal(0, s.joined(g))
	})

	s.Run("non-inception kinds need a created group", func() {
		g := models.NewGroup(domain.NewGroupCorrelationID(), "EA", true, time.Now())
		s.Require().NoError(s.store.CreateGroup(s.ctx, g))

		_, err := s.coordinator.Open(s.ctx, g.ID, models.KindRotation)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("inception reuses the group correlation id", func() {
		g := models.NewGroup(domain.NewGroupCorrelationID(), "EA", true, time.Now())
		s.Require().NoError(s.store.CreateGroup(s.ctx, g))

		p, err := s.coordinator.Open(s.ctx, g.ID, models.KindInception)
		s.Require().NoError(err)
		s.Equal(g.CorrelationID, p.CorrelationID)
		s.Equal(models.ProposalDraft, p.State)
	})

	s.Run("unknown group", func() {
		_, err := s.coordinator.Open(s.ctx, domain.NewGroupID(), models.KindOffer)
		s.ErrorIs(err, models.ErrUnknownGroup)
	})
}

func (s *CoordinatorSuite) TestSelectArtifact() {
	s.Run("second artifact is refused", func() {
		g := s.formedGroup("EA")
		p := s.proposedOffer(g, "Ecredential-1")

		_, err := s.coordinator.SelectArtifact(s.ctx, p.ID, "Ecredential-2")
		s.ErrorIs(err, models.ErrProposalAlreadySet)

		_, err = s.coordinator.SelectArtifact(s.ctx, p.ID, "Ecredential-1")
		s.ErrorIs(err, models.ErrProposalAlreadySet)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		stored, err := s.coordinator.Get(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal("Ecredential-1", stored.ArtifactRef)
		s.Equal(models.ProposalProposed, stored.State)
	})

	s.Run("broadcast addresses every other member", func() {
		g := s.formedGroup("EA")
		p, err := s.coordinator.Open(s.ctx, g.ID, models.KindRotation)
		s.Require().NoError(err)

		s.agent.EXPECT().BroadcastProposal(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msg ports.ProposalMessage) error {
				s.Equal([]domain.AID{"EB", "EC"}, msg.Recipients)
				s.Equal(p.CorrelationID, msg.CorrelationID)
				s.Equal(g.CorrelationID, msg.GroupCorrelationID)
				s.Equal("Erotation", msg.ArtifactRef)
				return nil
			})
		_, err = s.coordinator.SelectArtifact(s.ctx, p.ID, "Erotation")
		s.Require().NoError(err)
	})

	s.Run("agent failure leaves the proposal in draft", func() {
		g := s.formedGroup("EA")
		p, err := s.coordinator.Open(s.ctx, g.ID, models.KindOffer)
		s.Require().NoError(err)

		s.agent.EXPECT().BroadcastProposal(gomock.Any(), gomock.Any()).Return(ports.ErrAgentUnavailable)
		_, err = s.coordinator.SelectArtifact(s.ctx, p.ID, "Ecredential")
		s.ErrorIs(err, ports.ErrAgentUnavailable)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		stored, err := s.coordinator.Get(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.ProposalDraft, stored.State)
		s.Empty(stored.ArtifactRef)
	})
}

func (s *CoordinatorSuite) TestOrdering() {
	s.Run("acceptance before the artifact is refused", func() {
		g := s.formedGroup("EB")
		p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindRotation, domain.NewCorrelationID(), "EA", "")
		s.Require().NoError(err)
		s.Equal(models.ProposalAwaitingProposal, p.State)

		_, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EC")
		s.ErrorIs(err, models.ErrProposalNotProposed)
		s.Equal(0, s.joined(g))

		p, err = s.coordinator.OpenRemote(s.ctx, g.ID, models.KindRotation, p.CorrelationID, "EA", "Erotation")
		s.Require().NoError(err)
		s.Equal(models.ProposalProposed, p.State)

		_, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EA")
		s.Require().NoError(err)
		p, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EC")
		s.Require().NoError(err)
		s.Equal(models.ProposalAccepted, p.State)
	})

	s.Run("open remote is idempotent per correlation", func() {
		g := s.formedGroup("EB")
		corr := domain.NewCorrelationID()
		first, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, corr, "EA", "")
		s.Require().NoError(err)

		again, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, corr, "EA", "Ecredential")
		s.Require().NoError(err)
		s.Equal(first.ID, again.ID)
		s.Equal(models.ProposalProposed, again.State)
	})
}

func (s *CoordinatorSuite) TestLocalAccept() {
	s.Run("joiner signs through the agent and counts once", func() {
		g := s.formedGroup("EB")
		p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, domain.NewCorrelationID(), "EA", "Ecredential")
		s.Require().NoError(err)

		s.agent.EXPECT().AcceptProposal(gomock.Any(), gomock.Any()).Return(nil).Times(1)
		p, err = s.coordinator.LocalAccept(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(p.LocalAccepted)

		p, err = s.coordinator.LocalAccept(s.ctx, p.ID)
		s.Require().NoError(err)
		_, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EB")
		s.Require().NoError(err)
		s.Equal(1, s.joined(g), "local acceptance and its echo count once")
	})

	s.Run("agent failure records nothing", func() {
		g := s.formedGroup("EB")
		p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, domain.NewCorrelationID(), "EA", "Ecredential")
		s.Require().NoError(err)

		s.agent.EXPECT().AcceptProposal(gomock.Any(), gomock.Any()).Return(errors.New("boom"))
		_, err = s.coordinator.LocalAccept(s.ctx, p.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.Equal(0, s.joined(g))
	})
}

func (s *CoordinatorSuite) TestDecline() {
	s.Run("joiner decline leaves other joined flags alone", func() {
		g := s.formedGroup("EB")
		p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, domain.NewCorrelationID(), "EA", "Ecredential")
		s.Require().NoError(err)
		_, err = s.coordinator.ApplyMemberAcceptance(s.ctx, p.ID, "EC")
		s.Require().NoError(err)

		p, err = s.coordinator.Decline(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.ProposalRejected, p.State)
		s.Equal(models.RejectDeclined, p.RejectReason)

		members, err := s.registry.Members(s.ctx, g.ID)
		s.Require().NoError(err)
		s.True(members[2].Joined)
		s.Len(s.rejected, 1)
	})

	s.Run("initiator withdraws through the agent", func() {
		g := s.formedGroup("EA")
		p := s.proposedOffer(g, "Ecredential")

		s.agent.EXPECT().WithdrawProposal(gomock.Any(), gomock.Any()).Return(nil)
		p, err := s.coordinator.Decline(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.ProposalRejected, p.State)

		again, err := s.coordinator.Decline(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.ProposalRejected, again.State)
	})

	s.Run("initiator draft is declined without the agent", func() {
		g := s.formedGroup("EA")
		p, err := s.coordinator.Open(s.ctx, g.ID, models.KindOffer)
		s.Require().NoError(err)

		p, err = s.coordinator.Decline(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.ProposalRejected, p.State)

		_, err = s.coordinator.Open(s.ctx, g.ID, models.KindOffer)
		s.Require().NoError(err, "a declined proposal frees the slot")
	})

	s.Run("withdrawal observed from the initiator", func() {
		g := s.formedGroup("EB")
		p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindRotation, domain.NewCorrelationID(), "EA", "Erot")
		s.Require().NoError(err)

		_, err = s.coordinator.ObserveWithdrawal(s.ctx, p.ID, "EC")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		p, err = s.coordinator.ObserveWithdrawal(s.ctx, p.ID, "EA")
		s.Require().NoError(err)
		s.Equal(models.RejectWithdrawn, p.RejectReason)

		status, err := s.coordinator.Status(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.StageWithdrawn, status.Stage)
	})
}

func (s *CoordinatorSuite) TestExpireAndReevaluate() {
	s.Run("expire ends an active proposal", func() {
		g := s.formedGroup("EB")
		p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, domain.NewCorrelationID(), "EA", "")
		s.Require().NoError(err)

		p, err = s.coordinator.Expire(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.ProposalExpired, p.State)
	})

	s.Run("reevaluate accepts when persisted flags already reach the threshold", func() {
		g := s.formedGroup("EB")
		p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, domain.NewCorrelationID(), "EA", "Ecredential")
		s.Require().NoError(err)
		_, err = s.registry.MarkJoined(s.ctx, g.ID, "EA")
		s.Require().NoError(err)
		_, err = s.registry.MarkJoined(s.ctx, g.ID, "EC")
		s.Require().NoError(err)

		p, err = s.coordinator.Reevaluate(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(models.ProposalAccepted, p.State)
	})
}
