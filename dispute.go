package main

import (
	"context"
	"fmt"
)

// DisputeSubmitter builds and broadcasts the on-chain fraud proof that
// overrides a counterparty's stale unilateral close with the operator's
// last co-signed state.
//
// Submitting is free of local side effects: the store is mutated only by
// confirmed events, so a dispute is safe to attempt more than once if the
// surrounding delivery is retried.
type DisputeSubmitter struct {
	chain    ChainClient
	contract string
	operator string
	metrics  *Metrics
	logger   Logger
}

func NewDisputeSubmitter(chain ChainClient, contract, operator string, metrics *Metrics, logger Logger) *DisputeSubmitter {
	return &DisputeSubmitter{
		chain:    chain,
		contract: contract,
		operator: operator,
		metrics:  metrics,
		logger:   logger.NewSystem("dispute").With("contract", contract),
	}
}

// Submit broadcasts one dispute-closure call carrying the recorded
// co-signed state. A failed broadcast is returned as an error and must not
// be swallowed by the caller.
func (d *DisputeSubmitter) Submit(ctx context.Context, channel *Channel, sig *ChannelSignature) error {
	logger := LoggerFromContext(ctx).With("channelKey", channel.Key)

	if d.contract == "" {
		return fmt.Errorf("channel contract is not configured, refusing to dispute %s", channel.Key)
	}

	// The contract must send the whole recorded channel value back to the
	// operator, otherwise the dispute transaction aborts.
	total := sig.Balance1.Add(sig.Balance2)
	if !total.IsPositive() {
		return fmt.Errorf("cannot construct dispute post-condition for %s: non-positive total %s", channel.Key, total)
	}

	var asset any
	if channel.Token != "" {
		asset = channel.Token
	}

	args := []any{
		asset,
		channel.Counterparty(d.operator),
		sig.Balance1,
		sig.Balance2,
		sig.Nonce,
		string(sig.Action),
		sig.OwnerSignature,
		sig.OtherSignature,
	}
	if sig.Actor != "" {
		args = append(args, sig.Actor)
	}
	if sig.Secret != "" {
		args = append(args, sig.Secret)
	}

	call := ContractCall{
		Contract: d.contract,
		Function: "dispute-closure",
		Args:     args,
		PostConditions: []PostCondition{{
			Asset:     channel.Token,
			Recipient: d.operator,
			Amount:    total,
		}},
	}

	txID, err := d.chain.Broadcast(ctx, call)
	if err != nil {
		return fmt.Errorf("failed to dispute channel %s: %w", channel.Key, err)
	}

	if d.metrics != nil {
		d.metrics.DisputesSubmitted.Inc()
	}
	logger.Info("submitted dispute", "txID", txID, "nonce", sig.Nonce, "action", sig.Action)
	return nil
}
