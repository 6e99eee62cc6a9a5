package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// httpTransport posts each JSON-RPC request to the server URL and reads
// the response from the reply body.
type httpTransport struct {
	cfg    ServerConfig
	log    *slog.Logger
	client *http.Client
	nextID atomic.Int64
}

func newHTTPTransport(cfg ServerConfig, log *slog.Logger) *httpTransport {
	return &httpTransport{
		cfg:    cfg,
		log:    log,
		client: &http.Client{},
	}
}

func (t *httpTransport) Start(ctx context.Context) error {
	if err := t.Call(ctx, methodInitialize, newInitializeParams(), nil); err != nil {
		return err
	}
	return t.notify(ctx, methodInitialized, nil)
}

func (t *httpTransport) Call(ctx context.Context, method string, params, result any) error {
	data, err := marshalRequest(t.nextID.Add(1), method, params)
	if err != nil {
		return &TransportError{Err: err}
	}

	timeout := callTimeout(t.cfg)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := t.post(callCtx, data)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return &TimeoutError{Server: t.cfg.ID, Method: method, After: timeout}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Connection-level failures are worth a retry.
		return &TransportError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return &TransportError{Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		// Some servers acknowledge calls without a result body.
		if result == nil {
			return nil
		}
		return &TransportError{Err: fmt.Errorf("empty response for %s", method)}
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return &TransportError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return decodeResult(&rpcResp, result)
}

func (t *httpTransport) notify(ctx context.Context, method string, params any) error {
	data, err := marshalRequest(0, method, params)
	if err != nil {
		return &TransportError{Err: err}
	}
	resp, err := t.post(ctx, data)
	if err != nil {
		return &TransportError{Transient: true, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxFrameSize))
	return checkStatus(resp)
}

func (t *httpTransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	return t.client.Do(req)
}

// checkStatus maps HTTP status classes onto the transport error
// taxonomy: 5xx is transient, other non-success codes are permanent.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 500:
		return &TransportError{Transient: true, Err: fmt.Errorf("server returned %s", resp.Status)}
	case resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusAccepted,
		resp.StatusCode == http.StatusNoContent:
		return nil
	default:
		return &TransportError{Err: fmt.Errorf("server returned %s", resp.Status)}
	}
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
