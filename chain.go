package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// PostCondition requires the contract to send at least Amount of Asset to
// Recipient, or the transaction aborts on-chain.
type PostCondition struct {
	Asset     string          `json:"asset,omitempty"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// ContractCall is one outbound transaction invoking a public contract function.
type ContractCall struct {
	Contract       string          `json:"contract"`
	Function       string          `json:"function"`
	Args           []any           `json:"args"`
	PostConditions []PostCondition `json:"post_conditions,omitempty"`
}

// ChainClient broadcasts signed contract calls. The store is never mutated
// by a broadcast attempt, only by confirmed events, so every call through
// this interface must be safe to attempt more than once.
type ChainClient interface {
	Broadcast(ctx context.Context, call ContractCall) (string, error)
}

// NodeClient submits operator-signed contract calls to the chain node's
// transaction endpoint over HTTP.
type NodeClient struct {
	rpcURL string
	signer *Signer
	client *http.Client
	logger Logger
}

func NewNodeClient(rpcURL string, signer *Signer, logger Logger) *NodeClient {
	return &NodeClient{
		rpcURL: rpcURL,
		signer: signer,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.NewSystem("node-client").With("rpcURL", rpcURL),
	}
}

var _ ChainClient = (*NodeClient)(nil)

type signedCall struct {
	Call      ContractCall `json:"call"`
	Sender    string       `json:"sender"`
	Signature Signature    `json:"signature"`
}

type broadcastResponse struct {
	TxID  string `json:"txid"`
	Error string `json:"error,omitempty"`
}

// Broadcast signs the call with the operator key and posts it to the node.
func (c *NodeClient) Broadcast(ctx context.Context, call ContractCall) (string, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("failed to serialize contract call: %w", err)
	}

	sig, err := c.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign contract call: %w", err)
	}

	body, err := json.Marshal(signedCall{
		Call:      call,
		Sender:    c.signer.GetAddress().Hex(),
		Signature: sig,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL+"/v2/transactions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", BroadcastErrorf("%s %s: %w", call.Contract, call.Function, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", BroadcastErrorf("%s %s: reading response: %w", call.Contract, call.Function, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", BroadcastErrorf("%s %s: node returned %d: %s", call.Contract, call.Function, resp.StatusCode, string(respBody))
	}

	var parsed broadcastResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", BroadcastErrorf("%s %s: malformed node response: %w", call.Contract, call.Function, err)
	}
	if parsed.Error != "" {
		return "", BroadcastErrorf("%s %s: rejected by node: %s", call.Contract, call.Function, parsed.Error)
	}

	c.logger.Info("broadcasted transaction", "contract", call.Contract, "function", call.Function, "txID", parsed.TxID)
	return parsed.TxID, nil
}
