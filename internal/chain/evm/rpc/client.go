package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quex-tech/onchain-ai/internal/circuitbreaker"
	"github.com/quex-tech/onchain-ai/internal/metrics"
)

type Client struct {
	httpClient *http.Client
	rpcURL     string
	requestID  atomic.Int64
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

func NewClient(rpcURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")
	breaker := circuitbreaker.New(circuitbreaker.Config{
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.RPCBreakerState.Set(float64(to))
			if to == circuitbreaker.StateOpen {
				metrics.RPCBreakerTrips.Inc()
			}
			logger.Warn("rpc circuit breaker state changed", "from", from, "to", to)
		},
	})
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		rpcURL:     rpcURL,
		breaker:    breaker,
		logger:     logger,
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if err := c.breaker.Allow(); err != nil {
		metrics.RPCCallsTotal.WithLabelValues(method, "rejected").Inc()
		return nil, fmt.Errorf("rpc %s: %w", method, err)
	}

	result, err := c.doCall(ctx, method, params)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCCallsTotal.WithLabelValues(method, status).Inc()
	return result, err
}

func (c *Client) doCall(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := int(c.requestID.Add(1))
	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	// The endpoint answered; an in-protocol error does not count against it.
	c.breaker.RecordSuccess()

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}
