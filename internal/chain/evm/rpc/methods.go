package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func (c *Client) GetBlockNumber(ctx context.Context) (int64, error) {
	result, err := c.call(ctx, "eth_blockNumber", []interface{}{})
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}

	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, fmt.Errorf("unmarshal block number: %w", err)
	}

	blockNumber, err := ParseHexInt64(hexNum)
	if err != nil {
		return 0, fmt.Errorf("parse block number: %w", err)
	}
	return blockNumber, nil
}

func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]*Log, error) {
	result, err := c.call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs: %w", err)
	}

	var logs []*Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}

	return logs, nil
}

// Call executes a read-only contract call at the latest block and returns
// the raw hex-encoded return data.
func (c *Client) Call(ctx context.Context, msg CallMsg) (string, error) {
	result, err := c.call(ctx, "eth_call", []interface{}{msg, "latest"})
	if err != nil {
		return "", fmt.Errorf("eth_call: %w", err)
	}

	var data string
	if err := json.Unmarshal(result, &data); err != nil {
		return "", fmt.Errorf("unmarshal call result: %w", err)
	}
	return data, nil
}

func (c *Client) GetTransactionReceipt(ctx context.Context, hash string) (*TransactionReceipt, error) {
	result, err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{hash})
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt(%s): %w", hash, err)
	}
	if string(result) == "null" {
		return nil, nil
	}

	var receipt TransactionReceipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, fmt.Errorf("unmarshal transaction receipt: %w", err)
	}

	return &receipt, nil
}

// NewFilter installs a server-side log filter and returns its identifier.
func (c *Client) NewFilter(ctx context.Context, filter LogFilter) (string, error) {
	result, err := c.call(ctx, "eth_newFilter", []interface{}{filter})
	if err != nil {
		return "", fmt.Errorf("eth_newFilter: %w", err)
	}

	var id string
	if err := json.Unmarshal(result, &id); err != nil {
		return "", fmt.Errorf("unmarshal filter id: %w", err)
	}
	return id, nil
}

// GetFilterChanges returns the logs accumulated on a filter since the last
// poll. A missing/expired filter surfaces as an RPC error.
func (c *Client) GetFilterChanges(ctx context.Context, filterID string) ([]*Log, error) {
	result, err := c.call(ctx, "eth_getFilterChanges", []interface{}{filterID})
	if err != nil {
		return nil, fmt.Errorf("eth_getFilterChanges(%s): %w", filterID, err)
	}

	var logs []*Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal filter changes: %w", err)
	}
	return logs, nil
}

func (c *Client) UninstallFilter(ctx context.Context, filterID string) error {
	_, err := c.call(ctx, "eth_uninstallFilter", []interface{}{filterID})
	if err != nil {
		return fmt.Errorf("eth_uninstallFilter(%s): %w", filterID, err)
	}
	return nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, signedTx string) (string, error) {
	result, err := c.call(ctx, "eth_sendRawTransaction", []interface{}{signedTx})
	if err != nil {
		return "", fmt.Errorf("eth_sendRawTransaction: %w", err)
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("unmarshal transaction hash: %w", err)
	}
	return hash, nil
}

func ParseHexInt64(value string) (int64, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	raw = strings.TrimPrefix(strings.ToLower(raw), "0x")
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex %q: %w", value, err)
	}
	return int64(parsed), nil
}

func FormatHexInt64(value int64) string {
	return fmt.Sprintf("0x%x", value)
}
