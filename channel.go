package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ChannelState represents the lifecycle state of a channel
type ChannelState string

var (
	ChannelStateOpen    ChannelState = "open"
	ChannelStateClosing ChannelState = "closing"
	ChannelStateClosed  ChannelState = "closed"
)

// ChannelKey identifies a channel: the two principals as reported by the
// chain event plus the optional asset. The reported principal order is
// preserved, it is part of the key.
type ChannelKey struct {
	Principal1 string `json:"principal-1"`
	Principal2 string `json:"principal-2"`
	Token      string `json:"token,omitempty"`
}

// String derives the storage key for the channel.
func (k ChannelKey) String() string {
	if k.Token == "" {
		return k.Principal1 + ":" + k.Principal2
	}
	return k.Principal1 + ":" + k.Principal2 + ":" + k.Token
}

// Involves reports whether the given address is one of the two principals.
func (k ChannelKey) Involves(address string) bool {
	return k.Principal1 == address || k.Principal2 == address
}

// Channel mirrors the on-chain channel between two principals. It is
// created on the first event referencing an unseen key and never deleted;
// closed channels are retained.
//
// RawAmount columns use type:varchar(78) for sqlite to address the issue
// of not supporting big decimals.
type Channel struct {
	Key        string          `gorm:"column:channel_key;primaryKey"`
	Principal1 string          `gorm:"column:principal_1;not null"`
	Principal2 string          `gorm:"column:principal_2;not null"`
	Token      string          `gorm:"column:token"`
	Balance1   decimal.Decimal `gorm:"column:balance_1;type:varchar(78);not null"`
	Balance2   decimal.Decimal `gorm:"column:balance_2;type:varchar(78);not null"`
	Nonce      uint64          `gorm:"column:nonce;default:0"`
	ExpiresAt  uint64          `gorm:"column:expires_at;default:0"`
	State      ChannelState    `gorm:"column:state;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName specifies the table name for the Channel model
func (Channel) TableName() string {
	return "channels"
}

// OperatorBalance returns the balance on the operator's side of the channel.
func (c *Channel) OperatorBalance(operator string) decimal.Decimal {
	if c.Principal1 == operator {
		return c.Balance1
	}
	return c.Balance2
}

// Counterparty returns the principal that is not the operator.
func (c *Channel) Counterparty(operator string) string {
	if c.Principal1 == operator {
		return c.Principal2
	}
	return c.Principal1
}

// GetChannelByKey retrieves a channel by its derived key.
// It returns nil without error when the channel is unknown.
func GetChannelByKey(tx *gorm.DB, key string) (*Channel, error) {
	var channel Channel
	if err := tx.Where("channel_key = ?", key).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching channel %s: %w", key, err)
	}

	return &channel, nil
}

// SaveChannel overwrites the full channel record. Handlers always write
// every mutable field from the event, never deltas, so a replayed event
// lands on the same stored state.
func SaveChannel(tx *gorm.DB, channel *Channel) error {
	channel.UpdatedAt = time.Now()
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = channel.UpdatedAt
	}
	if err := tx.Save(channel).Error; err != nil {
		return fmt.Errorf("error saving channel %s: %w", channel.Key, err)
	}
	return nil
}

// getChannelsByState finds all channels in the given state.
func getChannelsByState(tx *gorm.DB, state ChannelState) ([]Channel, error) {
	var channels []Channel
	q := tx
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if err := q.Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("error finding channels in state %s: %w", state, err)
	}

	return channels, nil
}

func countChannelsByState(tx *gorm.DB, state ChannelState) (int64, error) {
	var count int64
	err := tx.Model(&Channel{}).Where("state = ?", state).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting channels in state %s: %w", state, err)
	}
	return count, nil
}
