// Package agent is the HTTP adapter for the external KERI agent that owns
// keys, signing and the notification list.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veridian/internal/multisig/metrics"
	"veridian/internal/multisig/models"
	"veridian/internal/multisig/ports"
	"veridian/pkg/domain"
)

const DefaultTimeout = 15 * time.Second

// Error codes the agent reports in its error body.
const (
	codeInsufficientWitnesses = "insufficient_witnesses"
	codeMisconfiguredBackend  = "misconfigured_backend"
)

// Client talks to one agent over HTTP.
type Client struct {
	base    *url.URL
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid agent url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		base: u,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
		tracer: otel.Tracer("veridian/multisig/agent"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ ports.Agent = (*Client)(nil)
var _ ports.NotificationFeed = (*Client)(nil)

type inceptionBody struct {
	GroupID           string   `json:"group_id"`
	CorrelationID     string   `json:"correlation_id"`
	LocalMember       string   `json:"local_member"`
	MemberHabName     string   `json:"member_hab_name"`
	GroupName         string   `json:"group_name"`
	Members           []string `json:"members"`
	SigningThreshold  string   `json:"kt"`
	RotationThreshold string   `json:"nt"`
}

type inceptionResponse struct {
	ArtifactRef string `json:"d"`
	GroupAID    string `json:"group_aid"`
}

// CreateGroupInception asks the agent to build, sign and send the group
// inception event. Thresholds travel string-encoded, as the agent expects.
func (c *Client) CreateGroupInception(ctx context.Context, req ports.InceptionRequest) (ports.InceptionResult, error) {
	body := inceptionBody{
		GroupID:           req.GroupID.String(),
		CorrelationID:     string(req.CorrelationID),
		LocalMember:       string(req.LocalMember),
		MemberHabName:     req.MemberHabName,
		GroupName:         req.GroupName,
		Members:           aidStrings(req.Members),
		SigningThreshold:  fmt.Sprint(req.SigningThreshold),
		RotationThreshold: fmt.Sprint(req.RotationThreshold),
	}
	var resp inceptionResponse
	if err := c.do(ctx, "create_inception", http.MethodPost, "/identifiers/groups", nil, body, &resp); err != nil {
		return ports.InceptionResult{}, err
	}
	if resp.ArtifactRef == "" {
		return ports.InceptionResult{}, fmt.Errorf("%w: inception response without event digest", ports.ErrMisconfiguredBackend)
	}
	return ports.InceptionResult{ArtifactRef: resp.ArtifactRef, GroupAID: domain.AID(resp.GroupAID)}, nil
}

type proposalBody struct {
	GroupID            string   `json:"group_id"`
	GroupCorrelationID string   `json:"gid"`
	CorrelationID      string   `json:"correlation_id"`
	Kind               string   `json:"kind"`
	ArtifactRef        string   `json:"artifact"`
	LocalMember        string   `json:"sender"`
	Recipients         []string `json:"recipients"`
}

func toProposalBody(msg ports.ProposalMessage) proposalBody {
	return proposalBody{
		GroupID:            msg.GroupID.String(),
		GroupCorrelationID: string(msg.GroupCorrelationID),
		CorrelationID:      string(msg.CorrelationID),
		Kind:               string(msg.Kind),
		ArtifactRef:        msg.ArtifactRef,
		LocalMember:        string(msg.LocalMember),
		Recipients:         aidStrings(msg.Recipients),
	}
}

func (c *Client) BroadcastProposal(ctx context.Context, msg ports.ProposalMessage) error {
	return c.do(ctx, "broadcast_proposal", http.MethodPost, "/multisig/proposals", nil, toProposalBody(msg), nil)
}

func (c *Client) AcceptProposal(ctx context.Context, msg ports.ProposalMessage) error {
	path := "/multisig/proposals/" + url.PathEscape(string(msg.CorrelationID)) + "/accept"
	return c.do(ctx, "accept_proposal", http.MethodPost, path, nil, toProposalBody(msg), nil)
}

func (c *Client) WithdrawProposal(ctx context.Context, msg ports.ProposalMessage) error {
	path := "/multisig/proposals/" + url.PathEscape(string(msg.CorrelationID)) + "/withdraw"
	return c.do(ctx, "withdraw_proposal", http.MethodPost, path, nil, toProposalBody(msg), nil)
}

type oobiResponse struct {
	OOBIs []string `json:"oobis"`
}

// GetOOBI returns the first invitation URL the agent advertises for aid.
func (c *Client) GetOOBI(ctx context.Context, aid domain.AID) (string, error) {
	var resp oobiResponse
	if err := c.do(ctx, "get_oobi", http.MethodGet, "/identifiers/"+url.PathEscape(string(aid))+"/oobis", nil, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.OOBIs) == 0 {
		return "", fmt.Errorf("%w: no oobi for %s", ports.ErrMisconfiguredBackend, aid)
	}
	return resp.OOBIs[0], nil
}

// ListNotifications returns notes start..end inclusive.
func (c *Client) ListNotifications(ctx context.Context, start, end int) ([]models.InboundNotification, error) {
	header := http.Header{"Range": []string{fmt.Sprintf("notes=%d-%d", start, end)}}
	var notes []models.InboundNotification
	if err := c.do(ctx, "list_notifications", http.MethodGet, "/notifications", header, nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id domain.NotificationID) error {
	return c.do(ctx, "mark_notification", http.MethodPut, "/notifications/"+url.PathEscape(string(id)), nil, nil, nil)
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) do(ctx context.Context, op, method, path string, header http.Header, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "agent."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("agent.path", path),
	))
	start := time.Now()
	defer func() {
		c.metrics.ObserveAgent(op, start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ports.ErrAgentUnavailable, op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(ctx, op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ports.ErrMisconfiguredBackend, op, err)
	}
	return nil
}

func (c *Client) statusError(ctx context.Context, op string, resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &eb)

	c.logger.WarnContext(ctx, "agent call failed",
		"operation", op,
		"status", resp.StatusCode,
		"error_code", eb.Error,
	)

	switch {
	case eb.Error == codeInsufficientWitnesses:
		return fmt.Errorf("%w: %s", ports.ErrInsufficientWitnesses, eb.Description)
	case eb.Error == codeMisconfiguredBackend:
		return fmt.Errorf("%w: %s", ports.ErrMisconfiguredBackend, eb.Description)
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %d", ports.ErrAgentUnavailable, op, resp.StatusCode)
	default:
		return &StatusError{Operation: op, Status: resp.StatusCode, Code: eb.Error}
	}
}

// StatusError is a 4xx the agent gave without a recognized error code.
type StatusError struct {
	Operation string
	Status    int
	Code      string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent %s: status %d (%s)", e.Operation, e.Status, e.Code)
	}
	return fmt.Sprintf("agent %s: status %d", e.Operation, e.Status)
}

func aidStrings(aids []domain.AID) []string {
	out := make([]string, len(aids))
	for i, a := range aids {
		out[i] = string(a)
	}
	return out
}
