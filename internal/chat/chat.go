// Package chat relays chat turns to a Flowise prediction endpoint.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/jxtnz/portfolio-relay/internal/errors"
	"github.com/jxtnz/portfolio-relay/internal/metrics"
	"github.com/jxtnz/portfolio-relay/internal/requestid"
	"github.com/jxtnz/portfolio-relay/internal/upstream"
)

// Caller-facing error messages.
const (
	NotConfiguredMessage = "FLOWISE_API_URL is not configured."
	MessageRequired      = "Message is required."
	UnreachableMessage   = "Unable to reach chatbot service."
)

// maxLoggedBody bounds how much of an upstream error body is logged.
const maxLoggedBody = 2048

// Config holds the Flowise endpoint settings.
type Config struct {
	URL    string
	APIKey string // optional bearer token
}

// Message is the inbound chat turn. SessionID is opaque and forwarded as
// sent, whatever its JSON type.
type Message struct {
	Message   string          `json:"message"`
	SessionID json.RawMessage `json:"sessionId,omitempty"`
}

type prediction struct {
	Question       string         `json:"question"`
	OverrideConfig overrideConfig `json:"overrideConfig"`
}

type overrideConfig struct {
	SessionID json.RawMessage `json:"sessionId,omitempty"`
}

// Relay forwards chat turns upstream. It holds no per-conversation state.
type Relay struct {
	cfg     Config
	fetcher upstream.Fetcher
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRelay creates a Relay. m may be nil.
func NewRelay(cfg Config, fetcher upstream.Fetcher, m *metrics.Metrics, logger zerolog.Logger) *Relay {
	return &Relay{
		cfg:     cfg,
		fetcher: fetcher,
		metrics: m,
		logger:  logger.With().Str("component", "chat").Logger(),
	}
}

// Configured reports whether an upstream URL is set.
func (r *Relay) Configured() bool {
	return strings.TrimSpace(r.cfg.URL) != ""
}

// Validate checks preconditions in order: configuration, then input.
func (r *Relay) Validate(msg Message) error {
	if !r.Configured() {
		return fmt.Errorf("flowise url: %w", perrors.ErrNotConfigured)
	}
	if strings.TrimSpace(msg.Message) == "" {
		return fmt.Errorf("message: %w", perrors.ErrInvalidInput)
	}
	return nil
}

// Forward sends one validated chat turn upstream.
func (r *Relay) Forward(ctx context.Context, msg Message) upstream.Result {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	return r.fetcher.FetchJSON(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    r.cfg.URL,
		Header: header,
		Body: prediction{
			Question:       msg.Message,
			OverrideConfig: overrideConfig{SessionID: sessionOrNil(msg.SessionID)},
		},
	})
}

// Handler serves POST /api/chat.
func (r *Relay) Handler(c *fiber.Ctx) error {
	if !r.Configured() {
		return errorJSON(c, fiber.StatusInternalServerError, NotConfiguredMessage)
	}

	if !c.Is("json") {
		return errorJSON(c, fiber.StatusBadRequest, MessageRequired)
	}
	var msg Message
	if err := json.Unmarshal(c.Body(), &msg); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, MessageRequired)
	}
	if err := r.Validate(msg); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, MessageRequired)
	}

	res := r.Forward(c.UserContext(), msg)
	if res.OK() {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(fiber.StatusOK).Send(asJSON(res.Body))
	}

	err := res.Error("flowise")
	status := perrors.StatusOf(err, fiber.StatusInternalServerError)

	r.logger.Error().
		Err(err).
		Str("request_id", requestid.FromContext(c.UserContext())).
		Int("upstream_status", res.Status).
		Str("upstream_body", truncate(res.Body, maxLoggedBody)).
		Msg("chat relay failed")
	if r.metrics != nil {
		r.metrics.RecordError("chat", res.Kind.String())
	}

	if res.Kind == upstream.KindUpstreamFailure && len(bytes.TrimSpace(res.Body)) > 0 {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Status(status).Send(asJSON(res.Body))
	}
	return errorJSON(c, status, UnreachableMessage)
}

// sessionOrNil drops session values that carry no identity: null, false,
// zero and the empty string.
func sessionOrNil(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if !x {
			return nil
		}
	case string:
		if x == "" {
			return nil
		}
	case float64:
		if x == 0 {
			return nil
		}
	}
	return raw
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// asJSON returns body unchanged when it is valid JSON, otherwise the body
// encoded as a JSON string.
func asJSON(body []byte) []byte {
	if json.Valid(body) {
		return body
	}
	encoded, err := json.Marshal(string(body))
	if err != nil {
		return []byte(`""`)
	}
	return encoded
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
