package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// sseTransport speaks JSON-RPC over HTTP POST and holds a long-lived event
// stream open for server-initiated traffic. A second initialize observed
// within one stream session means the server lost our handshake; the
// transport marks itself disconnected so the next call reconnects.
type sseTransport struct {
	config *ServerConfig
	logger *slog.Logger
	errlog *errorLog

	// callClient carries the POST exchanges; streamClient has no overall
	// timeout so the event stream can stay open indefinitely.
	callClient   *http.Client
	streamClient *http.Client

	mu        sync.Mutex
	cancel    context.CancelFunc
	connected atomic.Bool
	initCount atomic.Int64
	nextID    atomic.Int64
	wg        sync.WaitGroup
}

func newSSETransport(cfg *ServerConfig, opts transportOptions) *sseTransport {
	return &sseTransport{
		config:       cfg,
		logger:       opts.logger.With("server", cfg.Name, "transport", "sse"),
		errlog:       opts.errlog,
		callClient:   &http.Client{Timeout: defaultCallTimeout},
		streamClient: &http.Client{},
	}
}

// Connect opens the event stream and starts a fresh session. Connecting an
// already-connected transport is a no-op.
func (t *sseTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected.Load() {
		return nil
	}
	if t.config.URL == "" {
		return fmt.Errorf("url is required for sse transport")
	}

	// The stream must outlive the caller's context, which may be scoped to
	// a single turn.
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.initCount.Store(0)
	t.connected.Store(true)

	t.wg.Add(1)
	go t.listen(streamCtx)

	t.logger.Debug("stream transport ready", "url", t.config.URL)
	return nil
}

// Close tears down the event stream.
func (t *sseTransport) Close() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()

	t.connected.Store(false)
	t.wg.Wait()
	return nil
}

func (t *sseTransport) Connected() bool {
	return t.connected.Load()
}

// markLost records a broken session and forces the next call to reconnect.
func (t *sseTransport) markLost(reason string) {
	if !t.connected.Swap(false) {
		return
	}
	t.errlog.Add("stream session lost: %s", reason)
	t.logger.Warn("stream session lost", "reason", reason)

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
}

// Call posts one request and decodes the response from the reply body.
func (t *sseTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	if method == methodInitialize && t.initCount.Add(1) > 1 {
		t.markLost("duplicate initialize within one stream session")
		return nil, fmt.Errorf("duplicate initialize within stream session")
	}

	frame, err := marshalRequest(t.nextID.Add(1), method, params)
	if err != nil {
		return nil, err
	}

	body, err := t.post(ctx, frame)
	if err != nil {
		t.errlog.Add("%s: %v", method, err)
		return nil, err
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify posts one notification, ignoring the reply body.
func (t *sseTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	frame, err := marshalNotification(method, params)
	if err != nil {
		return err
	}
	_, err = t.post(ctx, frame)
	return err
}

func (t *sseTransport) post(ctx context.Context, frame []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.callClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

// listen holds the event stream open and watches for session loss. Dropped
// streams are not retried here; reconnection happens on the next call.
func (t *sseTransport) listen(ctx context.Context) {
	defer t.wg.Done()

	streamURL := strings.TrimSuffix(t.config.URL, "/") + "/sse"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		t.logger.Debug("create stream request failed", "error", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.streamClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Debug("event stream unavailable", "error", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("event stream returned non-200", "status", resp.StatusCode)
		return
	}

	t.logger.Debug("event stream open", "url", streamURL)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var envelope jsonrpcResponse
		if err := json.Unmarshal([]byte(data), &envelope); err != nil {
			continue
		}
		if envelope.Method == "" {
			continue
		}
		t.logger.Debug("server event", "method", envelope.Method)
	}

	// Stream ended. If we did not close it ourselves the session is gone.
	if ctx.Err() == nil {
		t.markLost("event stream dropped")
	}
}
