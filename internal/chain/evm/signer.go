package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

// HTTPSigner delegates transaction signing to an external wallet sidecar.
// Keys never enter this process; the sidecar returns a broadcast-ready raw
// transaction.
type HTTPSigner struct {
	httpClient *http.Client
	url        string
}

func NewHTTPSigner(url string) *HTTPSigner {
	return &HTTPSigner{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
	}
}

var _ TxSigner = (*HTTPSigner)(nil)

type signRequest struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

type signResponse struct {
	SignedTx string `json:"signedTx"`
	Error    string `json:"error,omitempty"`
}

func (s *HTTPSigner) SignTransaction(ctx context.Context, to string, calldata []byte, value *big.Int) (string, error) {
	valueHex := "0x0"
	if value != nil && value.Sign() > 0 {
		valueHex = "0x" + value.Text(16)
	}

	body, err := json.Marshal(signRequest{
		To:    to,
		Data:  bytesToHex(calldata),
		Value: valueHex,
	})
	if err != nil {
		return "", fmt.Errorf("marshal sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create sign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("signer request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read signer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer http status %d: %s", resp.StatusCode, string(respBody))
	}

	var signResp signResponse
	if err := json.Unmarshal(respBody, &signResp); err != nil {
		return "", fmt.Errorf("unmarshal signer response: %w", err)
	}
	if signResp.Error != "" {
		return "", fmt.Errorf("signer rejected transaction: %s", signResp.Error)
	}
	if signResp.SignedTx == "" {
		return "", fmt.Errorf("signer returned empty transaction")
	}
	return signResp.SignedTx, nil
}
