// Package chatproxy is the narrow, bounded coupling to the external LLM
// narrative/chat collaborator the talk handler proxies to (§4.6.6). It is the
// only generative dependency in the runtime: every other handler is
// deterministic. A circuit breaker and a per-call deadline keep an LLM outage
// from affecting any other verb.
package chatproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/opsnotify"
	"github.com/kestrel-run/aoi-runtime/internal/resilience"
)

// Request carries everything the talk handler has gathered for one turn:
// the NPC's template fields, the player's accumulated relationship with it,
// a short player-view summary, and the player's message (§4.6.6 step 3).
type Request struct {
	NPCID            string         `json:"npc_id"`
	NPCName          string         `json:"npc_name"`
	NPCDescription   string         `json:"npc_description"`
	TrustLevel       int            `json:"trust_level"`
	TotalConversations int          `json:"total_conversations"`
	PlayerSummary    map[string]any `json:"player_summary"`
	Message          string         `json:"message"`
}

// Reply is the chat service's narrative response.
type Reply struct {
	Text string `json:"text"`
}

// Client proxies a talk turn to the external chat service.
type Client interface {
	Reply(ctx context.Context, req Request) (Reply, error)
}

// HTTPClient is the production [Client]: a single JSON POST to
// cfg.BaseURL, wrapped in a [resilience.CircuitBreaker] and degrading to
// cfg.CannedFallback on timeout, transport error, or an open breaker — never
// propagating the failure to the handler (§9: "keep the coupling narrow so
// that LLM outages degrade to canned replies without affecting any other
// verb").
type HTTPClient struct {
	baseURL        string
	cannedFallback string
	timeout        time.Duration
	httpClient     *http.Client
	breaker        *resilience.CircuitBreaker
}

// NewHTTPClient builds an HTTPClient from cfg. notifier receives a best-effort
// ops notification every time the chat service breaker opens or closes
// (SPEC_FULL.md's "Supplemented feature 1: admin ops notifications"); pass
// [opsnotify.NopNotifier] to disable.
func NewHTTPClient(cfg config.ChatServiceConfig, notifier opsnotify.Notifier) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	fallback := cfg.CannedFallback
	if fallback == "" {
		fallback = "They nod but say nothing more."
	}
	return &HTTPClient{
		baseURL:        cfg.BaseURL,
		cannedFallback: fallback,
		timeout:        timeout,
		httpClient:     &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "chatproxy",
			OnTransition: func(from, to resilience.State) {
				switch to {
				case resilience.StateOpen:
					notifier.Notify(context.Background(), fmt.Sprintf(
						"chat service circuit breaker opened (was %s) — narrative replies degrading to canned fallback", from))
				case resilience.StateClosed:
					notifier.Notify(context.Background(), "chat service circuit breaker closed — narrative replies restored")
				}
			},
		}),
	}
}

// Reply implements [Client]. It never returns an error to the caller: any
// failure degrades to the canned fallback reply, per §7 kind 5.
func (c *HTTPClient) Reply(ctx context.Context, req Request) (Reply, error) {
	if c.baseURL == "" {
		return Reply{Text: c.cannedFallback}, nil
	}

	var reply Reply
	err := c.breaker.Execute(func() error {
		r, callErr := c.call(ctx, req)
		if callErr != nil {
			return callErr
		}
		reply = r
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			slog.Warn("chatproxy: circuit open, returning canned reply", "npc_id", req.NPCID)
		} else {
			slog.Warn("chatproxy: call failed, returning canned reply", "npc_id", req.NPCID, "error", err)
		}
		return Reply{Text: c.cannedFallback}, nil
	}
	return reply, nil
}

func (c *HTTPClient) call(ctx context.Context, req Request) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("chatproxy: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("chatproxy: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("chatproxy: call chat service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Reply{}, fmt.Errorf("chatproxy: chat service returned status %d", resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("chatproxy: decode reply: %w", err)
	}
	return reply, nil
}

var positiveKeywords = []string{
	"thank", "please", "friend", "help", "kind", "sorry", "appreciate", "great", "love",
}

var negativeKeywords = []string{
	"hate", "stupid", "shut up", "kill", "never", "liar", "worthless", "go away", "idiot",
}

// ScoreSentiment implements the "simple heuristic (positive/negative keyword
// scoring)" of §4.6.6 step 4: each keyword hit contributes ±1, unbounded
// before the caller clamps it against the relationship's domain range.
func ScoreSentiment(message string) int {
	lower := strings.ToLower(message)
	score := 0
	for _, kw := range positiveKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			score--
		}
	}
	return score
}
