package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/transport"
)

// NewHttpClientTransport creates a client transport that spreads requests
// round-robin over the configured endpoints
func NewHttpClientTransport() *ClientTransport {
	return &ClientTransport{}
}

// ClientTransport implements transport.IRPCClientTransport over HTTP
type ClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    atomic.Uint32
	retryCount int
}

var _ transport.IRPCClientTransport = (*ClientTransport)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *ClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("http transport: no endpoints configured")
	}

	urls := make([]*url.URL, len(config.Endpoints))
	for i, endpoint := range config.Endpoints {
		if !strings.Contains(endpoint, "://") {
			endpoint = "http://" + endpoint
		}
		u, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("http transport: endpoint %q: %w", endpoint, err)
		}
		urls[i] = u
	}

	t.client = &http.Client{
		Timeout: config.Timeout(),
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	t.serverURLs = urls
	t.retryCount = max(config.RetryCount, 1)
	return nil
}

// Send posts req to the next endpoint. A failed attempt moves on to the next
// endpoint until retryCount attempts are used or ctx is done.
func (t *ClientTransport) Send(ctx context.Context, shardID uint64, req []byte) ([]byte, error) {
	if t.client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	var lastErr error
	for i := 0; i < t.retryCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := t.counter.Add(1) % uint32(len(t.serverURLs))
		resp, err := t.post(ctx, t.serverURLs[idx], shardID, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		log.Debugf("send to %s failed (%d/%d): %v", t.serverURLs[idx].Host, i+1, t.retryCount, err)
	}
	return nil, lastErr
}

func (t *ClientTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	t.client = nil
	t.serverURLs = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *ClientTransport) post(ctx context.Context, server *url.URL, shardID uint64, body []byte) ([]byte, error) {
	target := server.JoinPath(strconv.FormatUint(shardID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http error: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return io.ReadAll(resp.Body)
}
