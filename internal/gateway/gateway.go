// Package gateway implements the thin transparent websocket tunnel of §4.8:
// it validates the same bearer token the session endpoint validates, opens
// a backing connection to the session endpoint, and relays frames in both
// directions under a bounded connection-pool ceiling.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/kestrel-run/aoi-runtime/internal/observe"
	"github.com/kestrel-run/aoi-runtime/internal/wsapi"
)

// defaultMaxConnections is used when Proxy.MaxConnections is unset.
const defaultMaxConnections = 100

// Proxy is the gateway proxy's HTTP handler.
type Proxy struct {
	// BackendAddr is the session endpoint's websocket address
	// (e.g. "ws://127.0.0.1:8081/ws").
	BackendAddr string

	// Auth validates the bearer token before a tunnel is opened. The
	// gateway never decodes the resulting claims; it only needs to know
	// whether the token is valid (§4.8: "Validates the same token").
	Auth wsapi.Authenticator

	// MaxConnections bounds concurrent tunnels. Defaults to 100.
	MaxConnections int64

	Metrics *observe.Metrics

	sem *semaphore.Weighted
}

func (p *Proxy) limiter() *semaphore.Weighted {
	if p.sem == nil {
		max := p.MaxConnections
		if max <= 0 {
			max = defaultMaxConnections
		}
		p.sem = semaphore.NewWeighted(max)
	}
	return p.sem
}

// ServeHTTP implements §4.8: token validation, then a transparent relay.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}
	if _, err := p.Auth.Authenticate(r.Context(), token); err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	sem := p.limiter()
	if !sem.TryAcquire(1) {
		http.Error(w, "gateway at capacity", http.StatusServiceUnavailable)
		return
	}
	defer sem.Release(1)
	if p.Metrics != nil {
		p.Metrics.GatewayTunnels.Add(r.Context(), 1)
		defer p.Metrics.GatewayTunnels.Add(r.Context(), -1)
	}

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("gateway: accept client websocket", "error", err)
		return
	}
	defer client.CloseNow()

	backendURL, err := p.backendURL(r.URL.RawQuery)
	if err != nil {
		slog.Error("gateway: build backend url", "error", err)
		client.Close(websocket.StatusInternalError, "backend unavailable")
		return
	}

	backend, _, err := websocket.Dial(r.Context(), backendURL, nil)
	if err != nil {
		slog.Error("gateway: dial session endpoint", "error", err)
		client.Close(websocket.StatusInternalError, "backend unavailable")
		return
	}
	defer backend.CloseNow()

	relay(r.Context(), client, backend)
}

func (p *Proxy) backendURL(rawQuery string) (string, error) {
	u, err := url.Parse(p.BackendAddr)
	if err != nil {
		return "", fmt.Errorf("gateway: parse backend addr %q: %w", p.BackendAddr, err)
	}
	u.RawQuery = rawQuery
	return u.String(), nil
}

// relay copies frames in both directions until either side closes or errors.
// The first side to fail determines the close code applied to both: a
// normal closure from either peer is normal; anything else is an internal
// error.
func relay(ctx context.Context, client, backend *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go pipe(ctx, backend, client, errs)
	go pipe(ctx, client, backend, errs)

	err := <-errs
	if err == nil {
		client.Close(websocket.StatusNormalClosure, "")
		backend.Close(websocket.StatusNormalClosure, "")
		return
	}
	client.Close(websocket.StatusInternalError, "gateway relay failure")
	backend.Close(websocket.StatusInternalError, "gateway relay failure")
}

func pipe(ctx context.Context, dst, src *websocket.Conn, errs chan<- error) {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			select {
			case errs <- classifyCloseErr(err):
			default:
			}
			return
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
	}
}

// classifyCloseErr reports nil for a normal-closure read error from either
// peer so relay
// can apply the normal-closure code to both sides; any other read failure
// is treated as an internal error.
func classifyCloseErr(err error) error {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
