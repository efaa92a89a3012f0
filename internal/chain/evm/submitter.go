package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/quex-tech/onchain-ai/internal/chain"
	"github.com/quex-tech/onchain-ai/internal/chain/evm/rpc"
)

var selSendMessage = selector("sendMessage(string,bytes)")

const defaultReceiptPollInterval = 2 * time.Second

// TxSigner is the external wallet collaborator: it turns calldata into a
// signed raw transaction. Key management never enters this module.
type TxSigner interface {
	SignTransaction(ctx context.Context, to string, calldata []byte, value *big.Int) (string, error)
}

// Submitter broadcasts sendMessage transactions and waits for their
// receipts.
type Submitter struct {
	client              *rpc.Client
	contract            string
	signer              TxSigner
	logger              *slog.Logger
	receiptPollInterval time.Duration
}

func NewSubmitter(client *rpc.Client, contract string, signer TxSigner, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		client:              client,
		contract:            contract,
		signer:              signer,
		logger:              logger.With("component", "evm_submitter"),
		receiptPollInterval: defaultReceiptPollInterval,
	}
}

var _ chain.Submitter = (*Submitter)(nil)

// SendMessage encodes sendMessage(prompt, encodedBody), signs it through
// the external signer and broadcasts it.
func (s *Submitter) SendMessage(ctx context.Context, prompt string, encodedBody []byte, deposit *big.Int) (string, error) {
	calldata, err := encodeSendMessage(prompt, encodedBody)
	if err != nil {
		return "", fmt.Errorf("encode sendMessage: %w", err)
	}

	signedTx, err := s.signer.SignTransaction(ctx, s.contract, calldata, deposit)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	txHash, err := s.client.SendRawTransaction(ctx, signedTx)
	if err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}

	s.logger.Info("message submitted", "tx_hash", txHash, "deposit", deposit)
	return txHash, nil
}

// AwaitConfirmation polls for the transaction receipt until the ledger
// reports success, reports revert, or ctx expires.
func (s *Submitter) AwaitConfirmation(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(s.receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			receipt, err := s.client.GetTransactionReceipt(ctx, txHash)
			if err != nil {
				s.logger.Warn("receipt lookup failed", "tx_hash", txHash, "error", err)
				continue
			}
			if receipt == nil {
				continue
			}
			status, err := rpc.ParseHexInt64(receipt.Status)
			if err != nil {
				return fmt.Errorf("parse receipt status %q: %w", receipt.Status, err)
			}
			if status != 1 {
				return fmt.Errorf("transaction %s reverted", txHash)
			}
			return nil
		}
	}
}

// encodeSendMessage builds calldata for sendMessage(string,bytes).
func encodeSendMessage(prompt string, body []byte) ([]byte, error) {
	sel, err := hexToBytes(selSendMessage)
	if err != nil {
		return nil, err
	}

	promptTail := encodeDynamicBytes([]byte(prompt))
	bodyTail := encodeDynamicBytes(body)

	// Head: two offset words pointing past themselves into the tail region.
	headSize := 2 * wordSize
	out := make([]byte, 0, len(sel)+headSize+len(promptTail)+len(bodyTail))
	out = append(out, sel...)
	out = append(out, encodeOffset(headSize)...)
	out = append(out, encodeOffset(headSize+len(promptTail))...)
	out = append(out, promptTail...)
	out = append(out, bodyTail...)
	return out, nil
}
