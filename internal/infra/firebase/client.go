// Package firebase provides a client for the Firebase Realtime Database
// REST API: whole-subtree writes and a value-change stream on the shared
// ledger root. The remote store is a plain JSON tree; the only operations
// the sync model needs are "replace the root" and "tell me the current
// root on every change".
package firebase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("firebase")

// Client wraps HTTP calls to the Realtime Database REST API.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	root         string
	authToken    string
	cb           *gobreaker.CircuitBreaker
	logger       *zap.Logger
}

// NewClient creates a Realtime Database client. httpClient carries the
// request timeout for one-shot calls; the change stream runs on a
// timeout-free copy because it is a deliberately long-lived request.
func NewClient(httpClient *http.Client, baseURL, root, authToken string, cb *gobreaker.CircuitBreaker, logger *zap.Logger) *Client {
	return &Client{
		httpClient:   httpClient,
		streamClient: &http.Client{Transport: httpClient.Transport},
		baseURL:      strings.TrimRight(baseURL, "/"),
		root:         root,
		authToken:    authToken,
		cb:           cb,
		logger:       logger,
	}
}

func (c *Client) rootURL() string {
	url := fmt.Sprintf("%s/%s.json", c.baseURL, c.root)
	if c.authToken != "" {
		url += "?auth=" + c.authToken
	}
	return url
}

// Put replaces the whole subtree under the root with the snapshot.
// Calls go through the circuit breaker: while the remote is failing,
// pushes fail fast instead of hanging every mutation's publish cycle.
func (c *Client) Put(ctx context.Context, snap *domain.RemoteSnapshot) error {
	ctx, span := tracer.Start(ctx, "Firebase.Put")
	defer span.End()
	span.SetAttributes(attribute.String("firebase.root", c.root))

	_, err := c.cb.Execute(func() (any, error) {
		body, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("encode snapshot: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.rootURL(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("firebase: put failed", zap.Error(err))
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.logger.Warn("firebase: non-2xx response",
				zap.String("method", http.MethodPut),
				zap.Int("status", resp.StatusCode),
			)
			return nil, fmt.Errorf("firebase returned status %d", resp.StatusCode)
		}

		c.logger.Debug("firebase: put OK", zap.Int("status", resp.StatusCode))
		return nil, nil
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "firebase", Err: err}
	}
	return nil
}

// Get fetches the current subtree. A JSON null body (never-written root)
// yields a nil snapshot.
func (c *Client) Get(ctx context.Context) (*domain.RemoteSnapshot, error) {
	ctx, span := tracer.Start(ctx, "Firebase.Get")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rootURL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "firebase", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "firebase", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "firebase",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	return decodeSnapshot(body)
}

// Watch opens the REST change stream (text/event-stream) on the root and
// invokes fn with the current subtree once on connect and on every
// subsequent change. It blocks until ctx is cancelled or the stream
// breaks, and returns the terminating error.
//
// The protocol delivers "put" events carrying {path, data}. Writers in
// this system only ever replace the root, so a root put is the whole
// snapshot; anything else (sub-path put, patch) is resolved by re-reading
// the root, which also covers coalesced intermediate states.
func (c *Client) Watch(ctx context.Context, fn func(*domain.RemoteSnapshot)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rootURL(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return &domain.ErrExternalService{Service: "firebase", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &domain.ErrExternalService{
			Service: "firebase",
			Err:     fmt.Errorf("stream status %d", resp.StatusCode),
		}
	}

	c.logger.Info("firebase: change stream connected", zap.String("root", c.root))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if err := c.dispatch(ctx, event, data, fn); err != nil {
				return err
			}
			event, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		return &domain.ErrExternalService{Service: "firebase", Err: err}
	}
	return &domain.ErrExternalService{Service: "firebase", Err: io.EOF}
}

type streamPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) dispatch(ctx context.Context, event, data string, fn func(*domain.RemoteSnapshot)) error {
	switch event {
	case "put", "patch":
	case "keep-alive", "":
		return nil
	case "cancel", "auth_revoked":
		return &domain.ErrExternalService{
			Service: "firebase",
			Err:     fmt.Errorf("stream terminated by server: %s", event),
		}
	default:
		c.logger.Debug("firebase: ignoring stream event", zap.String("event", event))
		return nil
	}

	var p streamPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		c.logger.Warn("firebase: undecodable stream payload", zap.Error(err))
		return nil
	}

	if event == "put" && p.Path == "/" {
		snap, err := decodeSnapshot(p.Data)
		if err != nil {
			c.logger.Warn("firebase: undecodable snapshot", zap.Error(err))
			return nil
		}
		fn(snap)
		return nil
	}

	// Partial update: re-read the root so the consumer always sees a
	// complete snapshot.
	snap, err := c.Get(ctx)
	if err != nil {
		c.logger.Warn("firebase: root refetch after partial update failed", zap.Error(err))
		return nil
	}
	fn(snap)
	return nil
}

func decodeSnapshot(body []byte) (*domain.RemoteSnapshot, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var snap domain.RemoteSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, &domain.ErrExternalService{
			Service: "firebase",
			Err:     fmt.Errorf("decode snapshot: %w", err),
		}
	}
	return &snap, nil
}
