package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veridian/internal/multisig/models"
	"veridian/internal/multisig/ports"
	"veridian/pkg/domain"
)

type ClientSuite struct {
	suite.Suite
	mux    *http.ServeMux
	server *httptest.Server
	client *Client
	ctx    context.Context
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)
	c, err := New(s.server.URL+"/", time.Second, WithHTTPClient(s.server.Client()))
	s.Require().NoError(err)
	s.client = c
	s.ctx = context.Background()
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *ClientSuite) TestCreateGroupInception() {
	s.Run("sends string thresholds and returns the event", func() {
		s.mux.HandleFunc("POST /identifiers/groups", func(w http.ResponseWriter, r *http.Request) {
			var body inceptionBody
			s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
			s.Equal("2", body.SigningThreshold)
			s.Equal("3", body.RotationThreshold)
			s.Equal([]string{"EAlice", "EBob", "ECarol"}, body.Members)
			writeJSON(w, http.StatusOK, inceptionResponse{ArtifactRef: "Eicp", GroupAID: "EGroup"})
		})

		res, err := s.client.CreateGroupInception(s.ctx, ports.InceptionRequest{
			GroupID:           domain.NewGroupID(),
			CorrelationID:     "corr",
			LocalMember:       "EAlice",
			Members:           []domain.AID{"EAlice", "EBob", "ECarol"},
			SigningThreshold:  2,
			RotationThreshold: 3,
		})
		s.Require().NoError(err)
		s.Equal("Eicp", res.ArtifactRef)
		s.Equal(domain.AID("EGroup"), res.GroupAID)
	})
}

func (s *ClientSuite) TestErrorMapping() {
	cases := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"insufficient witnesses", http.StatusUnprocessableEntity, errorBody{Error: codeInsufficientWitnesses}, ports.ErrInsufficientWitnesses},
		{"misconfigured backend", http.StatusBadRequest, errorBody{Error: codeMisconfiguredBackend}, ports.ErrMisconfiguredBackend},
		{"server error", http.StatusBadGateway, nil, ports.ErrAgentUnavailable},
		{"rate limited", http.StatusTooManyRequests, nil, ports.ErrAgentUnavailable},
	}
	for i, tc := range cases {
		path := "/identifiers/E" + string(rune('a'+i)) + "/oobis"
		s.mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, tc.body)
		})
		s.Run(tc.name, func() {
			_, err := s.client.GetOOBI(s.ctx, domain.AID("E"+string(rune('a'+i))))
			s.ErrorIs(err, tc.want)
		})
	}

	s.Run("unrecognized client error keeps the status", func() {
		s.mux.HandleFunc("POST /multisig/proposals", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, errorBody{Error: "duplicate"})
		})
		err := s.client.BroadcastProposal(s.ctx, ports.ProposalMessage{CorrelationID: "c"})
		var se *StatusError
		s.Require().ErrorAs(err, &se)
		s.Equal(http.StatusConflict, se.Status)
		s.Equal("duplicate", se.Code)
	})

	s.Run("unreachable agent is unavailable", func() {
		c, err := New("http://127.0.0.1:1", 200*time.Millisecond)
		s.Require().NoError(err)
		err = c.MarkNotificationRead(s.ctx, "n1")
		s.ErrorIs(err, ports.ErrAgentUnavailable)
	})
}

func (s *ClientSuite) TestProposalMessages() {
	var seen []string
	s.mux.HandleFunc("POST /multisig/proposals/{corr}/accept", func(w http.ResponseWriter, r *http.Request) {
		var body proposalBody
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		seen = append(seen, "accept:"+r.PathValue("corr")+":"+body.ArtifactRef)
		w.WriteHeader(http.StatusNoContent)
	})
	s.mux.HandleFunc("POST /multisig/proposals/{corr}/withdraw", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, "withdraw:"+r.PathValue("corr"))
		w.WriteHeader(http.StatusAccepted)
	})

	msg := ports.ProposalMessage{CorrelationID: "corr-9", Kind: models.KindOffer, ArtifactRef: "cred-1"}
	s.Require().NoError(s.client.AcceptProposal(s.ctx, msg))
	s.Require().NoError(s.client.WithdrawProposal(s.ctx, msg))
	s.Equal([]string{"accept:corr-9:cred-1", "withdraw:corr-9"}, seen)
}

func (s *ClientSuite) TestNotifications() {
	s.mux.HandleFunc("GET /notifications", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("notes=25-49", r.Header.Get("Range"))
		writeJSON(w, http.StatusOK, []models.InboundNotification{{ID: "n25", Route: models.RouteMemberJoined}})
	})
	var marked string
	s.mux.HandleFunc("PUT /notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		marked = r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})

	notes, err := s.client.ListNotifications(s.ctx, 25, 49)
	s.Require().NoError(err)
	s.Require().Len(notes, 1)
	s.Equal(models.RouteMemberJoined, notes[0].Route)

	s.Require().NoError(s.client.MarkNotificationRead(s.ctx, "n25"))
	s.Equal("n25", marked)
}

func (s *ClientSuite) TestOOBI() {
	s.mux.HandleFunc("GET /identifiers/EAlice/oobis", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, oobiResponse{OOBIs: []string{"https://agent.example/oobi/EAlice/agent/EAgent"}})
	})
	s.mux.HandleFunc("GET /identifiers/EBare/oobis", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, oobiResponse{})
	})

	u, err := s.client.GetOOBI(s.ctx, "EAlice")
	s.Require().NoError(err)
	s.Equal("https://agent.example/oobi/EAlice/agent/EAgent", u)

	_, err = s.client.GetOOBI(s.ctx, "EBare")
	s.ErrorIs(err, ports.ErrMisconfiguredBackend)
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not a url", 0); err == nil {
		t.Fatal("expected invalid url error")
	}
}
