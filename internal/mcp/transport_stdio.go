package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultCallTimeout bounds a single request/response exchange when the
// caller's context carries no deadline of its own.
const defaultCallTimeout = 30 * time.Second

// stdioTransport spawns the configured command and speaks newline-delimited
// JSON-RPC over its stdin/stdout. Stderr is drained into the error log.
type stdioTransport struct {
	config *ServerConfig
	logger *slog.Logger
	errlog *errorLog

	// systemPath is prepended to PATH when the config's env does not pin
	// PATH itself; it is the workspace's recorded system path.
	systemPath string

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser

	pending   map[int64]chan *jsonrpcResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func newStdioTransport(cfg *ServerConfig, opts transportOptions) *stdioTransport {
	return &stdioTransport{
		config:     cfg,
		logger:     opts.logger.With("server", cfg.Name, "transport", "stdio"),
		errlog:     opts.errlog,
		systemPath: opts.systemPath,
		pending:    make(map[int64]chan *jsonrpcResponse),
		stopChan:   make(chan struct{}),
	}
}

// buildEnv merges the parent environment with the configured overrides. If
// the overrides do not set PATH and the workspace recorded a system path,
// that path is prepended to the inherited PATH so spawned servers find the
// same binaries the user's shell would.
func (t *stdioTransport) buildEnv() []string {
	env := os.Environ()
	if len(t.config.Env) == 0 && t.systemPath == "" {
		return env
	}

	merged := make(map[string]string, len(env)+len(t.config.Env))
	order := make([]string, 0, len(env)+len(t.config.Env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	for k, v := range t.config.Env {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}

	if _, pinned := t.config.Env["PATH"]; !pinned && t.systemPath != "" {
		if existing, ok := merged["PATH"]; ok && existing != "" {
			merged["PATH"] = t.systemPath + string(os.PathListSeparator) + existing
		} else {
			if _, seen := merged["PATH"]; !seen {
				order = append(order, "PATH")
			}
			merged["PATH"] = t.systemPath
		}
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// Connect starts the subprocess and its reader goroutines. Connecting an
// already-connected transport is a no-op.
func (t *stdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected.Load() {
		return nil
	}

	cmd := exec.CommandContext(ctx, t.config.Command, t.config.Args...)
	cmd.Env = t.buildEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		t.errlog.Add("spawn %s: %v", t.config.Command, err)
		return fmt.Errorf("start %s: %w", t.config.Command, err)
	}

	t.process = cmd
	t.stdin = stdin
	t.stopChan = make(chan struct{})
	t.connected.Store(true)

	t.wg.Add(2)
	go t.readLoop(stdout)
	go t.drainStderr(stderr)

	go func() {
		err := cmd.Wait()
		if t.connected.CompareAndSwap(true, false) {
			if err != nil {
				t.errlog.Add("process exited: %v", err)
				t.logger.Warn("tool server process exited", "error", err)
			}
			t.failPending(fmt.Errorf("server process exited"))
		}
	}()

	t.logger.Debug("started tool server process", "command", t.config.Command)
	return nil
}

// Close stops the subprocess and releases the reader goroutines.
func (t *stdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected.Swap(false) && t.process == nil {
		return nil
	}

	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}

	if t.stdin != nil {
		_ = t.stdin.Close()
		t.stdin = nil
	}

	if t.process != nil {
		proc := t.process
		t.process = nil
		done := make(chan struct{})
		go func() {
			_ = proc.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			_ = proc.Process.Kill()
		}
	}

	t.failPending(fmt.Errorf("transport closed"))
	t.wg.Wait()
	return nil
}

func (t *stdioTransport) Connected() bool {
	return t.connected.Load()
}

// Call writes one request frame and waits for the response with the same ID.
func (t *stdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.nextID.Add(1)
	req, err := marshalRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	respChan := make(chan *jsonrpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.write(req); err != nil {
		t.errlog.Add("write %s: %v", method, err)
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := defaultCallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("%s timed out after %s", method, timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify writes one notification frame.
func (t *stdioTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	frame, err := marshalNotification(method, params)
	if err != nil {
		return err
	}
	return t.write(frame)
}

func (t *stdioTransport) write(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stdin == nil {
		return fmt.Errorf("stdin closed")
	}
	if _, err := t.stdin.Write(append(frame, '\n')); err != nil {
		return err
	}
	return nil
}

// readLoop scans stdout line by line and routes responses to their waiting
// callers. Server-initiated notifications are logged and dropped.
func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer t.wg.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonrpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.errlog.Add("decode response: %v", err)
			t.logger.Debug("undecodable line from server", "error", err)
			continue
		}

		if resp.ID == nil {
			t.logger.Debug("server notification", "method", resp.Method)
			continue
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[*resp.ID]
		t.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// drainStderr copies the server's stderr into the error log, line by line.
func (t *stdioTransport) drainStderr(stderr io.Reader) {
	defer t.wg.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		t.errlog.Add("stderr: %s", line)
		t.logger.Debug("server stderr", "line", line)
	}
}

// failPending unblocks every in-flight call with an error response.
func (t *stdioTransport) failPending(err error) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		select {
		case ch <- &jsonrpcResponse{ID: &id, Error: &jsonrpcError{Code: codeInternalError, Message: err.Error()}}:
		default:
		}
		delete(t.pending, id)
	}
}

func marshalRequest(id int64, method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}
	return json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
}

func marshalNotification(method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}
	return json.Marshal(jsonrpcNotification{JSONRPC: "2.0", Method: method, Params: raw})
}
