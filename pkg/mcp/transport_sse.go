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
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// sseTransport holds a long-lived event-stream GET open for responses
// and posts requests to the endpoint the server announces in its first
// event.
type sseTransport struct {
	cfg    ServerConfig
	log    *slog.Logger
	client *http.Client

	mu      sync.Mutex
	postURL string
	cancel  context.CancelFunc

	nextID    atomic.Int64
	pending   sync.Map // map[int64]chan *rpcResponse
	done      chan struct{}
	closeOnce sync.Once
}

func newSSETransport(cfg ServerConfig, log *slog.Logger) *sseTransport {
	return &sseTransport{
		cfg:    cfg,
		log:    log,
		client: &http.Client{},
	}
}

func (t *sseTransport) Start(ctx context.Context) error {
	// The stream outlives Start, so it runs under its own cancelable
	// context. Start's ctx only bounds connection setup.
	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		return &TransportError{Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return &TransportError{Transient: true, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return checkStatus(resp)
	}

	endpointCh := make(chan string, 1)
	go t.readStream(resp.Body, endpointCh)

	select {
	case endpoint := <-endpointCh:
		postURL, err := resolveEndpoint(t.cfg.URL, endpoint)
		if err != nil {
			t.Close()
			return &TransportError{Err: err}
		}
		t.mu.Lock()
		t.postURL = postURL
		t.mu.Unlock()
	case <-t.done:
		t.Close()
		return &TransportError{Transient: true, Err: errors.New("stream closed before endpoint event")}
	case <-time.After(callTimeout(t.cfg)):
		t.Close()
		return &TransportError{Transient: true, Err: errors.New("no endpoint event from server")}
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	}

	if err := t.Call(ctx, methodInitialize, newInitializeParams(), nil); err != nil {
		t.Close()
		return err
	}
	if err := t.notify(ctx, methodInitialized, nil); err != nil {
		t.Close()
		return err
	}
	return nil
}

func (t *sseTransport) Call(ctx context.Context, method string, params, result any) error {
	id := t.nextID.Add(1)
	data, err := marshalRequest(id, method, params)
	if err != nil {
		return &TransportError{Err: err}
	}

	ch := make(chan *rpcResponse, 1)
	t.pending.Store(id, ch)
	defer t.pending.Delete(id)

	if err := t.post(ctx, data); err != nil {
		return err
	}

	timeout := callTimeout(t.cfg)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return decodeResult(resp, result)
	case <-t.done:
		return &TransportError{Transient: true, Err: errors.New("event stream closed")}
	case <-timer.C:
		t.Close()
		return &TimeoutError{Server: t.cfg.ID, Method: method, After: timeout}
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	}
}

func (t *sseTransport) notify(ctx context.Context, method string, params any) error {
	data, err := marshalRequest(0, method, params)
	if err != nil {
		return &TransportError{Err: err}
	}
	return t.post(ctx, data)
}

func (t *sseTransport) post(ctx context.Context, body []byte) error {
	t.mu.Lock()
	postURL := t.postURL
	t.mu.Unlock()
	if postURL == "" {
		return &TransportError{Err: errors.New("transport not started")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Transient: true, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxFrameSize))
	return checkStatus(resp)
}

// readStream parses server-sent event frames: accumulated `data:` lines
// are dispatched when a blank line ends the frame, tagged with the
// frame's `event:` name.
func (t *sseTransport) readStream(body io.ReadCloser, endpointCh chan<- string) {
	defer body.Close()
	defer close(t.done)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	event := ""
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			t.dispatch(event, strings.Join(data, "\n"), endpointCh)
			event = ""
			data = nil
			continue
		}
		switch {
		case strings.HasPrefix(line, ":"):
			// Comment, keep-alive.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(line[len("data:"):]))
		}
	}
}

func (t *sseTransport) dispatch(event, data string, endpointCh chan<- string) {
	if data == "" {
		return
	}
	switch event {
	case "endpoint":
		select {
		case endpointCh <- data:
		default:
		}
	case "", "message":
		var resp rpcResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			t.log.Warn("dropping unparseable event from tool server",
				"server", t.cfg.ID,
				"error", err,
			)
			return
		}
		if resp.ID == 0 {
			return
		}
		if ch, ok := t.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan *rpcResponse) <- &resp
		}
	}
}

func resolveEndpoint(base, endpoint string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func (t *sseTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		t.client.CloseIdleConnections()
	})
	return nil
}
