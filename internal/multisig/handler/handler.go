// Package handler exposes group formation intents and read models to the
// presentation layer over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
	"veridian/pkg/platform/httputil"
)

// Groups is the lifecycle surface the handler drives.
type Groups interface {
	CreateGroup(ctx context.Context, displayName string, local models.MemberRef) (*models.GroupView, error)
	JoinGroup(ctx context.Context, invitation string, local models.MemberRef) (*models.GroupView, error)
	AddMember(ctx context.Context, groupID domain.GroupID, invitation string) (*models.GroupView, error)
	SetThreshold(ctx context.Context, groupID domain.GroupID, signing, rotation int) (*models.GroupView, error)
	Finalize(ctx context.Context, groupID domain.GroupID) (*models.GroupView, error)
	Abandon(ctx context.Context, groupID domain.GroupID) error
	ProposeDisplayName(ctx context.Context, groupID domain.GroupID, name string) (*models.GroupView, error)
	ConfirmDisplayName(ctx context.Context, groupID domain.GroupID, override string) (*models.GroupView, error)
	Resume(ctx context.Context, groupID domain.GroupID) (*models.GroupView, error)
	Invitation(ctx context.Context, groupID domain.GroupID) (string, error)
	View(ctx context.Context, groupID domain.GroupID) (*models.GroupView, error)
	Groups(ctx context.Context) ([]*models.GroupView, error)
}

// Proposals is the coordinator surface the handler drives.
type Proposals interface {
	Open(ctx context.Context, groupID domain.GroupID, kind models.ProposalKind) (*models.Proposal, error)
	SelectArtifact(ctx context.Context, id domain.ProposalID, artifactRef string) (*models.Proposal, error)
	LocalAccept(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	Decline(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	Expire(ctx context.Context, id domain.ProposalID) (*models.Proposal, error)
	Status(ctx context.Context, id domain.ProposalID) (*models.ProposalStatus, error)
	List(ctx context.Context, groupID domain.GroupID) ([]*models.Proposal, error)
}

// Credentials records which credentials the wallet holds, for offers.
type Credentials interface {
	SaveCredential(ctx context.Context, ref string) error
	DeleteCredential(ctx context.Context, ref string) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler wires multisig endpoints to the lifecycle controller and the
// proposal coordinator.
type Handler struct {
	groups      Groups
	proposals   Proposals
	credentials Credentials
	checks      map[string]HealthCheck
	logger      *slog.Logger
}

func New(groups Groups, proposals Proposals, credentials Credentials, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		groups:      groups,
		proposals:   proposals,
		credentials: credentials,
		checks:      make(map[string]HealthCheck),
		logger:      logger,
	}
}

// AddHealthCheck registers a named dependency probe for /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// Register mounts multisig endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)

	r.Route("/groups", func(r chi.Router) {
		r.Post("/", h.HandleCreateGroup)
		r.Get("/", h.HandleListGroups)
		r.Post("/join", h.HandleJoinGroup)

		r.Route("/{groupID}", func(r chi.Router) {
			r.Get("/", h.HandleGetGroup)
			r.Delete("/", h.HandleAbandon)
			r.Post("/members", h.HandleAddMember)
			r.Put("/threshold", h.HandleSetThreshold)
			r.Post("/finalize", h.HandleFinalize)
			r.Post("/resume", h.HandleResume)
			r.Get("/invitation", h.HandleInvitation)
			r.Put("/display-name", h.HandleDisplayName)
			r.Post("/proposals", h.HandleOpenProposal)
			r.Get("/proposals", h.HandleListProposals)
		})
	})

	r.Route("/proposals/{proposalID}", func(r chi.Router) {
		r.Get("/", h.HandleProposalStatus)
		r.Put("/artifact", h.HandleSelectArtifact)
		r.Post("/accept", h.proposalAction("accept", h.proposals.LocalAccept))
		r.Post("/decline", h.proposalAction("decline", h.proposals.Decline))
		r.Post("/expire", h.proposalAction("expire", h.proposals.Expire))
	})

	r.Post("/credentials", h.HandleSaveCredential)
	r.Delete("/credentials/{credentialID}", h.HandleDeleteCredential)
}

// NewRouter builds the full HTTP surface. metrics may be nil.
func NewRouter(h *Handler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	h.Register(r)
	return r
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	report := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": report})
}

// HandleCreateGroup handles POST /groups.
func (h *Handler) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CreateGroupRequest](w, r, h.logger, ctx, middleware.GetReqID(ctx))
	if !ok {
		return
	}
	view, err := h.groups.CreateGroup(ctx, req.DisplayName, req.member)
	if err != nil {
		h.fail(w, r, "create group failed", err)
		return
	}
	h.logger.InfoContext(ctx, "group created",
		"request_id", middleware.GetReqID(ctx),
		"group_id", view.Group.ID,
	)
	httputil.WriteJSON(w, http.StatusCreated, view)
}

// HandleJoinGroup handles POST /groups/join.
func (h *Handler) HandleJoinGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[JoinGroupRequest](w, r, h.logger, ctx, middleware.GetReqID(ctx))
	if !ok {
		return
	}
	view, err := h.groups.JoinGroup(ctx, req.Invitation, req.member)
	if err != nil {
		h.fail(w, r, "join group failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	views, err := h.groups.Groups(r.Context())
	if err != nil {
		h.fail(w, r, "list groups failed", err)
		return
	}
	if views == nil {
		views = []*models.GroupView{}
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	h.withGroup(w, r, func(ctx context.Context, id domain.GroupID) (any, error) {
		return h.groups.View(ctx, id)
	})
}

// HandleAbandon handles DELETE /groups/{groupID}.
func (h *Handler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	if err := h.groups.Abandon(r.Context(), id); err != nil {
		h.fail(w, r, "abandon group failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[AddMemberRequest](w, r, h.logger, ctx, middleware.GetReqID(ctx))
	if !ok {
		return
	}
	view, err := h.groups.AddMember(ctx, id, req.Invitation)
	if err != nil {
		h.fail(w, r, "add member failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleSetThreshold(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ThresholdRequest](w, r, h.logger, ctx, middleware.GetReqID(ctx))
	if !ok {
		return
	}
	view, err := h.groups.SetThreshold(ctx, id, req.Signing, req.Rotation)
	if err != nil {
		h.fail(w, r, "set threshold failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleFinalize handles POST /groups/{groupID}/finalize.
func (h *Handler) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	h.withGroup(w, r, func(ctx context.Context, id domain.GroupID) (any, error) {
		return h.groups.Finalize(ctx, id)
	})
}

func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.withGroup(w, r, func(ctx context.Context, id domain.GroupID) (any, error) {
		return h.groups.Resume(ctx, id)
	})
}

func (h *Handler) HandleInvitation(w http.ResponseWriter, r *http.Request) {
	h.withGroup(w, r, func(ctx context.Context, id domain.GroupID) (any, error) {
		inv, err := h.groups.Invitation(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]string{"invitation": inv}, nil
	})
}

// HandleDisplayName handles PUT /groups/{groupID}/display-name.
func (h *Handler) HandleDisplayName(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[DisplayNameRequest](w, r, h.logger, ctx, middleware.GetReqID(ctx))
	if !ok {
		return
	}
	var (
		view *models.GroupView
		err  error
	)
	if req.Confirm {
		view, err = h.groups.ConfirmDisplayName(ctx, id, req.Name)
	} else {
		view, err = h.groups.ProposeDisplayName(ctx, id, req.Name)
	}
	if err != nil {
		h.fail(w, r, "display name update failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleOpenProposal handles POST /groups/{groupID}/proposals.
func (h *Handler) HandleOpenProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[OpenProposalRequest](w, r, h.logger, ctx, middleware.GetReqID(ctx))
	if !ok {
		return
	}
	p, err := h.proposals.Open(ctx, id, req.kind)
	if err != nil {
		h.fail(w, r, "open proposal failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	h.withGroup(w, r, func(ctx context.Context, id domain.GroupID) (any, error) {
		list, err := h.proposals.List(ctx, id)
		if list == nil && err == nil {
			list = []*models.Proposal{}
		}
		return list, err
	})
}

func (h *Handler) HandleProposalStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	status, err := h.proposals.Status(r.Context(), id)
	if err != nil {
		h.fail(w, r, "proposal status failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleSelectArtifact handles PUT /proposals/{proposalID}/artifact.
func (h *Handler) HandleSelectArtifact(w http.ResponseWriter, r *http.Request) {
	id, ok := h.proposalID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ArtifactRequest](w, r, h.logger, ctx, middleware.GetReqID(ctx))
	if !ok {
		return
	}
	h.writeProposal(w, r, "select artifact", func() (*models.Proposal, error) {
		return h.proposals.SelectArtifact(ctx, id, req.Artifact)
	})
}

func (h *Handler) proposalAction(name string, action func(context.Context, domain.ProposalID) (*models.Proposal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.proposalID(w, r)
		if !ok {
			return
		}
		h.writeProposal(w, r, name, func() (*models.Proposal, error) {
			return action(r.Context(), id)
		})
	}
}

// writeProposal answers with the proposal's derived status after a change.
func (h *Handler) writeProposal(w http.ResponseWriter, r *http.Request, name string, change func() (*models.Proposal, error)) {
	p, err := change()
	if err != nil {
		h.fail(w, r, name+" failed", err)
		return
	}
	status, err := h.proposals.Status(r.Context(), p.ID)
	if err != nil {
		h.fail(w, r, name+" status failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleSaveCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CredentialRequest](w, r, h.logger, ctx, middleware.GetReqID(ctx))
	if !ok {
		return
	}
	if err := h.credentials.SaveCredential(ctx, req.ID); err != nil {
		h.fail(w, r, "save credential failed", dErrors.Wrap(err, dErrors.CodeInternal, "failed to save credential"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "credentialID")
	if err := h.credentials.DeleteCredential(r.Context(), ref); err != nil {
		h.fail(w, r, "delete credential failed", dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete credential"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) withGroup(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.GroupID) (any, error)) {
	id, ok := h.groupID(w, r)
	if !ok {
		return
	}
	out, err := fn(r.Context(), id)
	if err != nil {
		h.fail(w, r, "group request failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) groupID(w http.ResponseWriter, r *http.Request) (domain.GroupID, bool) {
	id, err := domain.ParseGroupID(chi.URLParam(r, "groupID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.GroupID{}, false
	}
	return id, true
}

func (h *Handler) proposalID(w http.ResponseWriter, r *http.Request) (domain.ProposalID, bool) {
	id, err := domain.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.ProposalID{}, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if code, ok := dErrors.CodeOf(err); !ok || code == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", middleware.GetReqID(ctx),
		"path", r.URL.Path,
		"error", err,
	)
	httputil.WriteError(w, err)
}
