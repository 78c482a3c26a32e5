package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Event tags emitted by the channel contract.
const (
	EventFundChannel    = "fund-channel"
	EventCloseChannel   = "close-channel"
	EventForceCancel    = "force-cancel"
	EventForceClose     = "force-close"
	EventFinalize       = "finalize"
	EventDeposit        = "deposit"
	EventWithdraw       = "withdraw"
	EventDisputeClosure = "dispute-closure"
)

// ChannelMachine applies channel contract events to the local store.
//
// Delivery is at-least-once, so every handler overwrites balance, nonce and
// state fields from the event instead of applying deltas: replaying a
// payload lands on the identical stored state. Wrong-state or stale-nonce
// events are logged and skipped without error, since the delivery itself
// succeeded and only the transition was redundant.
type ChannelMachine struct {
	db       *gorm.DB
	operator string
	disputes *DisputeSubmitter
	metrics  *Metrics
	logger   Logger
}

func NewChannelMachine(db *gorm.DB, operator string, disputes *DisputeSubmitter, metrics *Metrics, logger Logger) *ChannelMachine {
	return &ChannelMachine{
		db:       db,
		operator: operator,
		disputes: disputes,
		metrics:  metrics,
		logger:   logger.NewSystem("channel-machine").With("operator", operator),
	}
}

// Operator returns the hub address this machine represents.
func (m *ChannelMachine) Operator() string {
	return m.operator
}

// Tags lists the event tags the machine handles, for dispatcher registration.
func (m *ChannelMachine) Tags() []string {
	return []string{
		EventFundChannel,
		EventCloseChannel,
		EventForceCancel,
		EventForceClose,
		EventFinalize,
		EventDeposit,
		EventWithdraw,
		EventDisputeClosure,
	}
}

// HandleEvent routes one contract event to its transition handler.
func (m *ChannelMachine) HandleEvent(ctx context.Context, ev ChannelEvent) error {
	logger := m.logger.With("event", ev.Event).With("channelKey", ev.ChannelKey.String())
	ctx = SetContextLogger(ctx, logger)

	if m.metrics != nil {
		m.metrics.ChannelEventsTotal.WithLabelValues(ev.Event).Inc()
	}

	switch ev.Event {
	case EventFundChannel:
		return m.handleFund(ctx, ev)
	case EventCloseChannel:
		return m.handleClose(ctx, ev)
	case EventForceCancel, EventForceClose:
		return m.handleForcedClosure(ctx, ev)
	case EventFinalize:
		return m.handleFinalize(ctx, ev)
	case EventDeposit:
		return m.handleBalanceChange(ctx, ev, SignatureActionDeposit)
	case EventWithdraw:
		return m.handleBalanceChange(ctx, ev, SignatureActionWithdraw)
	case EventDisputeClosure:
		return m.handleDisputeClosure(ctx, ev)
	default:
		return fmt.Errorf("unknown channel event tag: %s", ev.Event)
	}
}

// materialize builds the implicit zero-state for an unseen channel key.
// The state field is seeded with whatever satisfies the handler's guard,
// so an absent channel can be materialized by any transition.
func materialize(ev ChannelEvent, state ChannelState) *Channel {
	return &Channel{
		Key:        ev.ChannelKey.String(),
		Principal1: ev.ChannelKey.Principal1,
		Principal2: ev.ChannelKey.Principal2,
		Token:      ev.ChannelKey.Token,
		State:      state,
	}
}

// overwrite copies every mutable field from the event snapshot onto the channel.
func overwrite(channel *Channel, ev ChannelEvent, state ChannelState) {
	channel.Balance1 = ev.Channel.Balance1
	channel.Balance2 = ev.Channel.Balance2
	channel.Nonce = ev.Channel.Nonce
	channel.ExpiresAt = ev.Channel.ExpiresAt
	channel.State = state
}

// senderBalance returns the stored balance on the event sender's side.
func senderBalance(channel *Channel, sender string) (bool, decimal.Decimal) {
	switch sender {
	case channel.Principal1:
		return true, channel.Balance1
	case channel.Principal2:
		return true, channel.Balance2
	}
	return false, decimal.Zero
}

func (m *ChannelMachine) handleFund(ctx context.Context, ev ChannelEvent) error {
	logger := LoggerFromContext(ctx)

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := StoreWebhookEvent(tx, ev); err != nil {
			return err
		}

		channel, err := GetChannelByKey(tx, ev.ChannelKey.String())
		if err != nil {
			return err
		}

		if channel == nil {
			channel = materialize(ev, ChannelStateOpen)
		} else if known, balance := senderBalance(channel, ev.Sender); known && !balance.IsZero() {
			// Duplicate funding: this side already holds value.
			logger.Warn("ignoring duplicate funding", "sender", ev.Sender)
			return nil
		}

		// A funding event on a settled channel whose funder side has been
		// cleared starts a new lifecycle under the same key, so the
		// overwrite below intentionally moves a closed channel back to open.
		overwrite(channel, ev, ChannelStateOpen)

		if err := SaveChannel(tx, channel); err != nil {
			return err
		}

		logger.Info("handled funding", "nonce", channel.Nonce, "balance1", channel.Balance1, "balance2", channel.Balance2)
		return nil
	})
}

func (m *ChannelMachine) handleClose(ctx context.Context, ev ChannelEvent) error {
	logger := LoggerFromContext(ctx)

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := StoreWebhookEvent(tx, ev); err != nil {
			return err
		}

		channel, err := GetChannelByKey(tx, ev.ChannelKey.String())
		if err != nil {
			return err
		}

		if channel == nil {
			channel = materialize(ev, ChannelStateOpen)
		} else if channel.State != ChannelStateOpen {
			logger.Warn("ignoring close on non-open channel", "state", channel.State)
			return nil
		}

		overwrite(channel, ev, ChannelStateClosed)

		if err := SaveChannel(tx, channel); err != nil {
			return err
		}

		logger.Info("handled cooperative close", "nonce", channel.Nonce)
		return nil
	})
}

// handleForcedClosure covers force-cancel and force-close: the counterparty
// unilaterally started closing the channel. The channel moves to closing
// with the submitted fields, and when the operator's recorded co-signed
// state is strictly better (higher balance on the operator side and a
// higher nonce) a dispute transaction is broadcast.
//
// A broadcast failure aborts the surrounding transaction, so the channel
// stays open locally and webhook redelivery retries the whole transition,
// including the dispute.
func (m *ChannelMachine) handleForcedClosure(ctx context.Context, ev ChannelEvent) error {
	logger := LoggerFromContext(ctx)

	if ev.Sender == m.operator {
		logger.Debug("ignoring own forced closure")
		return nil
	}

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := StoreWebhookEvent(tx, ev); err != nil {
			return err
		}

		channel, err := GetChannelByKey(tx, ev.ChannelKey.String())
		if err != nil {
			return err
		}

		if channel == nil {
			channel = materialize(ev, ChannelStateOpen)
		} else if channel.State != ChannelStateOpen {
			logger.Warn("ignoring forced closure on non-open channel", "state", channel.State)
			return nil
		}

		sig, err := GetChannelSignature(tx, channel.Key)
		if err != nil {
			return err
		}

		submittedNonce := ev.Channel.Nonce
		submittedBalance := ev.Channel.Balance1
		if channel.Principal2 == m.operator {
			submittedBalance = ev.Channel.Balance2
		}

		overwrite(channel, ev, ChannelStateClosing)

		if err := SaveChannel(tx, channel); err != nil {
			return err
		}

		if sig != nil {
			recordedBalance := sig.OperatorBalance(channel, m.operator)
			if recordedBalance.GreaterThan(submittedBalance) && sig.Nonce > submittedNonce {
				logger.Warn("stale unilateral close detected",
					"recordedNonce", sig.Nonce, "submittedNonce", submittedNonce,
					"recordedBalance", recordedBalance, "submittedBalance", submittedBalance)
				if err := m.disputes.Submit(ctx, channel, sig); err != nil {
					return err
				}
			}
		}

		logger.Info("handled forced closure", "sender", ev.Sender, "nonce", submittedNonce)
		return nil
	})
}

func (m *ChannelMachine) handleFinalize(ctx context.Context, ev ChannelEvent) error {
	logger := LoggerFromContext(ctx)

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := StoreWebhookEvent(tx, ev); err != nil {
			return err
		}

		channel, err := GetChannelByKey(tx, ev.ChannelKey.String())
		if err != nil {
			return err
		}

		if channel == nil {
			channel = materialize(ev, ChannelStateClosing)
		} else if channel.State != ChannelStateClosing {
			logger.Warn("ignoring finalize on non-closing channel", "state", channel.State)
			return nil
		}

		overwrite(channel, ev, ChannelStateClosed)

		if err := SaveChannel(tx, channel); err != nil {
			return err
		}

		logger.Info("handled finalize", "nonce", channel.Nonce)
		return nil
	})
}

// handleBalanceChange covers deposit and withdraw: the co-signed balance
// update events. The event nonce must strictly advance the stored one; the
// nonce check is the sole staleness defense for these two actions. The
// channel overwrite and the signature record are one atomic transaction.
func (m *ChannelMachine) handleBalanceChange(ctx context.Context, ev ChannelEvent, action SignatureAction) error {
	logger := LoggerFromContext(ctx)

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := StoreWebhookEvent(tx, ev); err != nil {
			return err
		}

		channel, err := GetChannelByKey(tx, ev.ChannelKey.String())
		if err != nil {
			return err
		}

		if channel == nil {
			channel = materialize(ev, ChannelStateOpen)
		} else if channel.State != ChannelStateOpen {
			logger.Warn("ignoring balance change on non-open channel", "state", channel.State, "action", action)
			return nil
		}

		if ev.Channel.Nonce <= channel.Nonce {
			logger.Warn("ignoring stale balance change",
				"action", action, "eventNonce", ev.Channel.Nonce, "storedNonce", channel.Nonce)
			return nil
		}

		overwrite(channel, ev, ChannelStateOpen)

		if err := SaveChannel(tx, channel); err != nil {
			return err
		}

		// The operator's signature is whichever blob the event sender
		// declared as their own or the counterparty's.
		ownerSig, otherSig := ev.TheirSignature, ev.MySignature
		if ev.Sender == m.operator {
			ownerSig, otherSig = ev.MySignature, ev.TheirSignature
		}

		sig := &ChannelSignature{
			ChannelKey:     channel.Key,
			Balance1:       ev.Channel.Balance1,
			Balance2:       ev.Channel.Balance2,
			Nonce:          ev.Channel.Nonce,
			Action:         action,
			Actor:          ev.Sender,
			OwnerSignature: ownerSig,
			OtherSignature: otherSig,
			Secret:         ev.Secret,
		}
		if err := SaveChannelSignature(tx, sig); err != nil {
			return err
		}

		logger.Info("handled balance change", "action", action, "nonce", channel.Nonce)
		return nil
	})
}

// handleDisputeClosure finalizes the operator's own successful dispute.
func (m *ChannelMachine) handleDisputeClosure(ctx context.Context, ev ChannelEvent) error {
	logger := LoggerFromContext(ctx)

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := StoreWebhookEvent(tx, ev); err != nil {
			return err
		}

		channel, err := GetChannelByKey(tx, ev.ChannelKey.String())
		if err != nil {
			return err
		}

		if channel == nil {
			channel = materialize(ev, ChannelStateClosing)
		} else if channel.State != ChannelStateClosing {
			logger.Warn("ignoring dispute closure on non-closing channel", "state", channel.State)
			return nil
		}

		overwrite(channel, ev, ChannelStateClosed)

		if err := SaveChannel(tx, channel); err != nil {
			return err
		}

		logger.Info("handled dispute closure", "nonce", channel.Nonce)
		return nil
	})
}
