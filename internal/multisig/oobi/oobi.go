// Package oobi produces and parses out-of-band invitation references.
//
// Generation is delegated to the agent and cached per identifier, so a
// screen that renders the invitation repeatedly does not hit the agent
// each time.
package oobi

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"veridian/internal/multisig/models"
	"veridian/internal/multisig/ports"
	"veridian/pkg/domain"
	dErrors "veridian/pkg/domain-errors"
)

const DefaultCacheSize = 128

// Query parameters carried by invitations.
const (
	ParamName      = "name"
	ParamGroupID   = "groupId"
	ParamGroupName = "groupName"
)

// Params decorates a generated invitation.
type Params struct {
	// Name is the member alias shown to the peer.
	Name string
	// GroupCorrelationID marks the invitation as a group-formation invite.
	GroupCorrelationID domain.CorrelationID
	GroupName          string
	// GroupIdentifier is set when aid is itself a group identifier. Only
	// those invites drop the agent endpoint role from the path.
	GroupIdentifier bool
}

func (p Params) key(aid domain.AID) string {
	return string(aid) + "|" + p.Name + "|" + string(p.GroupCorrelationID) + "|" + p.GroupName + "|" + strconv.FormatBool(p.GroupIdentifier)
}

// Handler manages invitation references.
type Handler struct {
	provider ports.OOBIProvider
	cache    *lru.Cache[string, string]
	logger   *slog.Logger
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func New(provider ports.OOBIProvider, cacheSize int, opts ...Option) (*Handler, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "failed to create invitation cache")
	}
	h := &Handler{provider: provider, cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Generate returns the invitation for aid, asking the agent only on a cache
// miss.
func (h *Handler) Generate(ctx context.Context, aid domain.AID, params Params) (string, error) {
	key := params.key(aid)
	if cached, ok := h.cache.Get(key); ok {
		return cached, nil
	}

	raw, err := h.provider.GetOOBI(ctx, aid)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to get invitation from agent")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "agent returned an invalid invitation")
	}

	if params.GroupIdentifier {
		// Group identifiers are resolved without an agent endpoint.
		if i := strings.Index(u.Path, "/agent/"); i >= 0 {
			u.Path = u.Path[:i]
		}
	}
	q := u.Query()
	if params.Name != "" {
		q.Set(ParamName, params.Name)
	}
	if params.GroupCorrelationID != "" {
		q.Set(ParamGroupID, string(params.GroupCorrelationID))
	}
	if params.GroupName != "" {
		q.Set(ParamGroupName, params.GroupName)
	}
	u.RawQuery = q.Encode()

	invitation := u.String()
	h.cache.Add(key, invitation)
	h.logger.DebugContext(ctx, "invitation generated", "aid", aid)
	return invitation, nil
}

// Invalidate forgets every cached invitation for aid.
func (h *Handler) Invalidate(aid domain.AID) {
	prefix := string(aid) + "|"
	for _, key := range h.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			h.cache.Remove(key)
		}
	}
}

// Parse reads an invitation received from a peer into a membership
// candidate. The display name falls back to the AID.
func Parse(raw string) (models.PendingMember, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return models.PendingMember{}, invalid("not a url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return models.PendingMember{}, invalid("unsupported scheme")
	}
	if u.Host == "" {
		return models.PendingMember{}, invalid("missing host")
	}

	_, rest, ok := strings.Cut(u.Path, "/oobi/")
	if !ok {
		return models.PendingMember{}, invalid("missing /oobi/ path")
	}
	segment, _, _ := strings.Cut(rest, "/")
	aid, err := domain.ParseAID(segment)
	if err != nil {
		return models.PendingMember{}, invalid("invalid identifier")
	}

	q := u.Query()
	name := strings.TrimSpace(q.Get(ParamName))
	if name == "" {
		name = string(aid)
	}
	return models.PendingMember{
		Member:        models.MemberRef{ID: aid, Name: name},
		CorrelationID: domain.CorrelationID(q.Get(ParamGroupID)),
		GroupName:     q.Get(ParamGroupName),
		URL:           u.String(),
	}, nil
}

func invalid(reason string) error {
	return dErrors.Wrap(models.ErrInvalidInvitation, dErrors.CodeValidation, "invalid invitation: "+reason)
}
