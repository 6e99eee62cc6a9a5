package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// maxFrameSize caps a single line-delimited JSON frame from a server.
const maxFrameSize = 10 * 1024 * 1024

// killGrace is how long Close waits for a server to exit on its own
// after stdin closes before killing it.
const killGrace = 500 * time.Millisecond

// stdioTransport spawns the server process and speaks line-delimited
// JSON-RPC over its stdin and stdout. A single reader goroutine routes
// responses to waiting calls through a pending map keyed by request id.
type stdioTransport struct {
	cfg ServerConfig
	log *slog.Logger

	// mu guards stdin and cmd against concurrent writes and Close.
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser

	nextID    atomic.Int64
	pending   sync.Map // map[int64]chan *rpcResponse
	done      chan struct{}
	closeOnce sync.Once
}

func newStdioTransport(cfg ServerConfig, log *slog.Logger) *stdioTransport {
	return &stdioTransport{cfg: cfg, log: log}
}

func (t *stdioTransport) Start(ctx context.Context) error {
	// The process outlives the Start context, so the context only
	// bounds the handshake below.
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &TransportError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &TransportError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &TransportError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return &TransportError{Err: fmt.Errorf("start %s: %w", t.cfg.Command, err)}
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readLoop(stdout)
	go t.drainStderr(stderr)

	if err := t.handshake(ctx); err != nil {
		t.Close()
		return err
	}
	return nil
}

func (t *stdioTransport) handshake(ctx context.Context) error {
	if err := t.Call(ctx, methodInitialize, newInitializeParams(), nil); err != nil {
		return err
	}
	return t.notify(methodInitialized, nil)
}

func (t *stdioTransport) Call(ctx context.Context, method string, params, result any) error {
	id := t.nextID.Add(1)
	data, err := marshalRequest(id, method, params)
	if err != nil {
		return &TransportError{Err: err}
	}

	ch := make(chan *rpcResponse, 1)
	t.pending.Store(id, ch)
	defer t.pending.Delete(id)

	if err := t.send(data); err != nil {
		return &TransportError{Transient: true, Err: err}
	}

	timeout := callTimeout(t.cfg)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return decodeResult(resp, result)
	case <-t.done:
		return &TransportError{Transient: true, Err: errors.New("tool server closed the connection")}
	case <-timer.C:
		t.Close()
		return &TimeoutError{Server: t.cfg.ID, Method: method, After: timeout}
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	}
}

func (t *stdioTransport) notify(method string, params any) error {
	data, err := marshalRequest(0, method, params)
	if err != nil {
		return &TransportError{Err: err}
	}
	if err := t.send(data); err != nil {
		return &TransportError{Transient: true, Err: err}
	}
	return nil
}

func (t *stdioTransport) send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stdin == nil {
		return errors.New("transport closed")
	}
	_, err := t.stdin.Write(append(data, '\n'))
	return err
}

func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer close(t.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.log.Warn("dropping unparseable frame from tool server",
				"server", t.cfg.ID,
				"error", err,
			)
			continue
		}
		// Server-initiated notifications carry no id.
		if resp.ID == 0 {
			continue
		}
		if ch, ok := t.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan *rpcResponse) <- &resp
		}
	}
	if err := scanner.Err(); err != nil {
		t.log.Warn("tool server stdout closed", "server", t.cfg.ID, "error", err)
	}
}

func (t *stdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.log.Debug("tool server stderr", "server", t.cfg.ID, "line", line)
		}
	}
}

func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		stdin, cmd := t.stdin, t.cmd
		t.stdin = nil
		t.mu.Unlock()

		if stdin != nil {
			stdin.Close()
		}
		if cmd == nil || cmd.Process == nil {
			return
		}

		waited := make(chan struct{})
		go func() {
			cmd.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(killGrace):
			if err := cmd.Process.Kill(); err != nil {
				t.log.Warn("killing tool server failed", "server", t.cfg.ID, "error", err)
			}
			<-waited
		}
	})
	return nil
}
