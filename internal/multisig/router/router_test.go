package router

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"veridian/internal/multisig/lifecycle"
	"veridian/internal/multisig/models"
	"veridian/internal/multisig/oobi"
	"veridian/internal/multisig/ports/mocks"
	"veridian/internal/multisig/proposal"
	"veridian/internal/multisig/registry"
	"veridian/internal/multisig/store/memory"
	"veridian/pkg/domain"
)

const (
	alice = domain.AID("EAlice")
	bob   = domain.AID("EBob")
	carol = domain.AID("ECarol")
)

type RouterSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	agent       *mocks.MockAgent
	store       *memory.InMemory
	registry    *registry.Registry
	coordinator *proposal.Coordinator
	controller  *lifecycle.Controller
	router      *Router
	ctx         context.Context
	now         time.Time
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.agent = mocks.NewMockAgent(s.ctrl)
	s.store = memory.NewInMemory()
	s.registry = registry.New(s.store, s.store)
	s.coordinator = proposal.New(s.store, s.store, s.registry, s.agent, s.store)
	invitations, err := oobi.New(s.agent, 4)
	s.Require().NoError(err)
	s.controller = lifecycle.New(s.store, s.registry, s.coordinator, s.agent, invitations)
	s.now = time.Now()
	s.router = New(s.store, s.coordinator, s.controller, memory.NewSeenSet(),
		WithMaxAttempts(3), WithBufferSize(4), WithMaxAge(time.Hour),
		WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *RouterSuite) TearDownTest() {
	s.ctrl.Finish()
}

// formed stores a created group of A, B, C with threshold 2 and local
// member local.
func (s *RouterSuite) formed(local domain.AID) *models.GroupIdentifier {
	g := models.NewGroup(domain.NewGroupCorrelationID(), local, local == alice, time.Now())
	g.State = models.StateComplete
	g.Created = true
	g.SigningThreshold = 2
	g.RotationThreshold = 2
	s.Require().NoError(s.store.CreateGroup(s.ctx, g))
	s.Require().NoError(s.registry.RegisterMembers(s.ctx, g.ID, []*models.MemberInfo{
		{MemberID: alice, DisplayName: "Alice"},
		{MemberID: bob, DisplayName: "Bob"},
		{MemberID: carol, DisplayName: "Carol"},
	}))
	return g
}

func (s *RouterSuite) proposedOffer(g *models.GroupIdentifier) *models.Proposal {
	p, err := s.coordinator.Open(s.ctx, g.ID, models.KindOffer)
	s.Require().NoError(err)
	s.agent.EXPECT().BroadcastProposal(gomock.Any(), gomock.Any()).Return(nil)
	p, err = s.coordinator.SelectArtifact(s.ctx, p.ID, "Ecredential")
	s.Require().NoError(err)
	return p
}

func joined(id string, corr domain.CorrelationID, sender domain.AID) models.InboundNotification {
	return models.InboundNotification{
		ID:            domain.NotificationID(id),
		Route:         models.RouteMemberJoined,
		SenderID:      sender,
		CorrelationID: corr,
	}
}

func payload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func (s *RouterSuite) proposal(id domain.ProposalID) *models.Proposal {
	p, err := s.coordinator.Get(s.ctx, id)
	s.Require().NoError(err)
	return p
}

func (s *RouterSuite) joinedCount(g *models.GroupIdentifier) int {
	n, err := s.registry.JoinedCount(s.ctx, g.ID)
	s.Require().NoError(err)
	return n
}

func (s *RouterSuite) TestMemberJoined() {
	s.Run("two acceptances reach threshold", func() {
		g := s.formed(alice)
		p := s.proposedOffer(g)

		s.Equal(OutcomeApplied, s.router.Apply(s.ctx, joined("n-b", p.CorrelationID, bob)))
		s.Equal(1, s.joinedCount(g))
		s.Equal(models.ProposalProposed, s.proposal(p.ID).State)

		s.Equal(OutcomeApplied, s.router.Apply(s.ctx, joined("n-c", p.CorrelationID, carol)))
		s.Equal(2, s.joinedCount(g))
		s.Equal(models.ProposalAccepted, s.proposal(p.ID).State)
	})

	s.Run("duplicate delivery counts once", func() {
		g := s.formed(alice)
		p := s.proposedOffer(g)

		s.Equal(OutcomeApplied, s.router.Apply(s.ctx, joined("dup-c", p.CorrelationID, carol)))
		s.Equal(OutcomeDuplicate, s.router.Apply(s.ctx, joined("dup-c", p.CorrelationID, carol)))
		s.Equal(1, s.joinedCount(g))

		// Same event without a feed id collapses by content.
		anon := joined("", p.CorrelationID, carol)
		s.Equal(OutcomeApplied, s.router.Apply(s.ctx, anon))
		s.Equal(OutcomeDuplicate, s.router.Apply(s.ctx, anon))
		s.Equal(1, s.joinedCount(g))

		s.Equal(OutcomeApplied, s.router.Apply(s.ctx, joined("dup-b", p.CorrelationID, bob)))
		s.Equal(2, s.joinedCount(g))
		s.Equal(models.ProposalAccepted, s.proposal(p.ID).State)
	})

	s.Run("non-members are rejected", func() {
		g := s.formed(alice)
		p := s.proposedOffer(g)
		s.Equal(OutcomeRejected, s.router.Apply(s.ctx, joined("n-x", p.CorrelationID, "EMallory")))
		s.Equal(0, s.joinedCount(g))
	})
}

func (s *RouterSuite) TestOutOfOrderDelivery() {
	g := s.formed(bob)
	corr := domain.NewCorrelationID()

	s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, joined("early-c", corr, carol)))
	s.Equal(1, s.router.Pending())
	s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, joined("early-c", corr, carol)), "redelivery stays buffered once")
	s.Equal(1, s.router.Pending())

	exn := models.InboundNotification{
		ID:            "exn-1",
		Route:         models.RouteOfferProposed,
		SenderID:      alice,
		CorrelationID: corr,
		Payload:       payload(models.ExchangePayload{GroupCorrelationID: g.CorrelationID, ArtifactRef: "Ecredential"}),
	}
	s.Equal(OutcomeApplied, s.router.Apply(s.ctx, exn))
	s.Equal(0, s.router.Pending())

	p, err := s.coordinator.ByCorrelation(s.ctx, corr)
	s.Require().NoError(err)
	s.Equal(models.ProposalProposed, p.State)
	s.Equal([]domain.AID{carol}, p.AcceptedBy)
	s.Equal(1, s.joinedCount(g))
}

func (s *RouterSuite) TestAcceptanceWaitsForArtifact() {
	g := s.formed(bob)
	corr := domain.NewCorrelationID()
	p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindRotation, corr, alice, "")
	s.Require().NoError(err)

	s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, joined("j-a", corr, alice)))
	s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, joined("j-c", corr, carol)))
	s.Equal(models.ProposalAwaitingProposal, s.proposal(p.ID).State)

	rot := models.InboundNotification{
		ID:            "rot-1",
		Route:         models.RouteRotationProposed,
		SenderID:      alice,
		CorrelationID: corr,
		Payload:       payload(models.ExchangePayload{GroupCorrelationID: g.CorrelationID, ArtifactRef: "Erot"}),
	}
	s.Equal(OutcomeApplied, s.router.Apply(s.ctx, rot))
	s.Equal(0, s.router.Pending())
	s.Equal(models.ProposalAccepted, s.proposal(p.ID).State)
}

func (s *RouterSuite) TestStaleNotifications() {
	s.Run("sweeps do not spend attempts", func() {
		n := joined("orphan", domain.NewCorrelationID(), carol)
		s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, n))

		for i := 0; i < 10; i++ {
			s.Equal(1, s.router.RetryPending(s.ctx))
		}
	})

	s.Run("dropped once older than the max age and routed again on redelivery", func() {
		s.SetupTest()
		n := joined("aged", domain.NewCorrelationID(), carol)
		s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, n))

		s.now = s.now.Add(2 * time.Hour)
		s.Equal(0, s.router.RetryPending(s.ctx))
		s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, n), "dropped events are not recorded as seen")
	})

	s.Run("buffer overflow drops the oldest", func() {
		s.SetupTest()
		corr := make(map[string]domain.CorrelationID)
		for _, id := range []string{"o-1", "o-2", "o-3", "o-4", "o-5"} {
			corr[id] = domain.NewCorrelationID()
			s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, joined(id, corr[id], carol)))
		}
		s.Equal(4, s.router.Pending())
		s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, joined("o-1", corr["o-1"], carol)))
		s.Equal(4, s.router.Pending())
	})

	s.Run("attempts are spent when the awaited proposal changes", func() {
		s.SetupTest()
		g := s.formed(bob)
		corr := domain.NewCorrelationID()
		p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindRotation, corr, alice, "")
		s.Require().NoError(err)
		s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, joined("waits", corr, carol)))

		// Each redelivery of the artifact-less proposal is a change that
		// does not resolve the acceptance.
		for i := 0; i < 3; i++ {
			s.router.proposalChanged(s.ctx, p)
			s.router.RetryPending(s.ctx)
		}
		s.Equal(0, s.router.Pending())
	})
}

func (s *RouterSuite) TestInceptionProposed() {
	members := []models.MemberRef{{ID: alice, Name: "Alice"}, {ID: bob, Name: "Bob"}, {ID: carol, Name: "Carol"}}
	icp := func(id string, corr domain.CorrelationID, recipient domain.AID) models.InboundNotification {
		return models.InboundNotification{
			ID:            domain.NotificationID(id),
			Route:         models.RouteInceptionProposed,
			SenderID:      alice,
			RecipientID:   recipient,
			CorrelationID: corr,
			Payload: payload(models.InceptionPayload{
				Name:              "v1.2.0.3:1-" + string(corr) + "-Alice:Board",
				Members:           members,
				SigningThreshold:  "2",
				ArtifactRef:       "EInception",
			}),
		}
	}

	s.Run("adopts a new group when the recipient is known", func() {
		corr := domain.NewGroupCorrelationID()
		s.Equal(OutcomeApplied, s.router.Apply(s.ctx, icp("icp-1", corr, bob)))

		g, err := s.store.FindGroupByCorrelation(s.ctx, corr)
		s.Require().NoError(err)
		s.Equal(models.StatePendingCreation, g.State)
		s.Equal("Board", g.ProposedDisplayName)
		s.Equal(2, g.SigningThreshold)
		s.Equal(2, g.RotationThreshold)
		s.Equal(bob, g.LocalMemberID)
		s.Equal(1, s.joinedCount(g))
	})

	s.Run("waits for the user to join without a recipient", func() {
		corr := domain.NewGroupCorrelationID()
		s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, icp("icp-2", corr, "")))

		q := url.Values{"name": {"Alice"}, "groupId": {string(corr)}, "groupName": {"Board"}}
		view, err := s.controller.JoinGroup(s.ctx, "https://agent.example/oobi/EAlice?"+q.Encode(), models.MemberRef{ID: bob, Name: "Bob"})
		s.Require().NoError(err)
		s.Equal(0, s.router.RetryPending(s.ctx))

		g, err := s.store.FindGroup(s.ctx, view.Group.ID)
		s.Require().NoError(err)
		s.Equal(models.StatePendingCreation, g.State)
		p, err := s.coordinator.ByCorrelation(s.ctx, corr)
		s.Require().NoError(err)
		s.Equal(models.ProposalProposed, p.State)
	})

	s.Run("stays buffered across empty polls until the user joins", func() {
		corr := domain.NewGroupCorrelationID()
		n := icp("icp-late", corr, "")
		s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, n))
		for i := 0; i < 10; i++ {
			s.Equal(1, s.router.RetryPending(s.ctx))
		}

		q := url.Values{"name": {"Alice"}, "groupId": {string(corr)}, "groupName": {"Board"}}
		view, err := s.controller.JoinGroup(s.ctx, "https://agent.example/oobi/EAlice?"+q.Encode(), models.MemberRef{ID: bob, Name: "Bob"})
		s.Require().NoError(err)
		s.Equal(0, s.router.RetryPending(s.ctx))

		g, err := s.store.FindGroup(s.ctx, view.Group.ID)
		s.Require().NoError(err)
		s.Equal(models.StatePendingCreation, g.State)
		s.Equal(OutcomeDuplicate, s.router.Apply(s.ctx, n))
	})

	s.Run("echo on the initiator is a no-op", func() {
		g := models.NewGroup(domain.NewGroupCorrelationID(), alice, true, time.Now())
		s.Require().NoError(s.store.CreateGroup(s.ctx, g))
		s.Equal(OutcomeApplied, s.router.Apply(s.ctx, icp("icp-3", g.CorrelationID, bob)))

		after, err := s.store.FindGroup(s.ctx, g.ID)
		s.Require().NoError(err)
		s.Equal(models.StateUninitiated, after.State)
	})

	s.Run("threshold above member count is rejected", func() {
		bad := icp("icp-4", domain.NewGroupCorrelationID(), bob)
		bad.Payload = payload(models.InceptionPayload{Members: members[:2], SigningThreshold: "3", ArtifactRef: "E"})
		s.Equal(OutcomeRejected, s.router.Apply(s.ctx, bad))
	})

	s.Run("weighted threshold is rejected", func() {
		bad := icp("icp-5", domain.NewGroupCorrelationID(), bob)
		bad.Payload = payload(models.InceptionPayload{Members: members, SigningThreshold: "1/2", ArtifactRef: "E"})
		s.Equal(OutcomeRejected, s.router.Apply(s.ctx, bad))
	})

	s.Run("recipient outside the member list is rejected", func() {
		s.Equal(OutcomeRejected, s.router.Apply(s.ctx, icp("icp-6", domain.NewGroupCorrelationID(), "EMallory")))
	})
}

func (s *RouterSuite) TestExchangeProposed() {
	s.Run("conflicting active proposal is dropped", func() {
		g := s.formed(bob)
		_, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, domain.NewCorrelationID(), alice, "Eone")
		s.Require().NoError(err)

		other := models.InboundNotification{
			ID:            "exn-other",
			Route:         models.RouteOfferProposed,
			SenderID:      carol,
			CorrelationID: domain.NewCorrelationID(),
			Payload:       payload(models.ExchangePayload{GroupCorrelationID: g.CorrelationID, ArtifactRef: "Etwo"}),
		}
		s.Equal(OutcomeDropped, s.router.Apply(s.ctx, other))
	})

	s.Run("unknown group is deferred", func() {
		n := models.InboundNotification{
			ID:            "exn-nogroup",
			Route:         models.RouteRotationProposed,
			SenderID:      alice,
			CorrelationID: domain.NewCorrelationID(),
			Payload:       payload(models.ExchangePayload{GroupCorrelationID: "missing", ArtifactRef: "Erot"}),
		}
		s.Equal(OutcomeDeferred, s.router.Apply(s.ctx, n))
	})

	s.Run("malformed payload is rejected", func() {
		n := models.InboundNotification{
			ID:            "exn-bad",
			Route:         models.RouteOfferProposed,
			SenderID:      alice,
			CorrelationID: domain.NewCorrelationID(),
			Payload:       json.RawMessage(`{"gid":`),
		}
		s.Equal(OutcomeRejected, s.router.Apply(s.ctx, n))
	})
}

func (s *RouterSuite) TestWithdrawal() {
	g := s.formed(bob)
	corr := domain.NewCorrelationID()
	p, err := s.coordinator.OpenRemote(s.ctx, g.ID, models.KindOffer, corr, alice, "Ecredential")
	s.Require().NoError(err)

	n := models.InboundNotification{ID: "wd-1", Route: models.RouteProposalWithdrawn, SenderID: alice, CorrelationID: corr}
	s.Equal(OutcomeApplied, s.router.Apply(s.ctx, n))

	p = s.proposal(p.ID)
	s.Equal(models.ProposalRejected, p.State)
	s.Equal(models.RejectWithdrawn, p.RejectReason)

	s.Equal(OutcomeApplied, s.router.Apply(s.ctx, joined("late-c", corr, carol)), "acceptances after the end are absorbed")
	s.Equal(models.ProposalRejected, s.proposal(p.ID).State)
}

func (s *RouterSuite) TestUnknownRoute() {
	n := models.InboundNotification{ID: "x", Route: "/exn/ipex/grant", SenderID: alice, CorrelationID: "c"}
	s.Equal(OutcomeDropped, s.router.Apply(s.ctx, n))
	s.Equal(OutcomeDuplicate, s.router.Apply(s.ctx, n))
}
