package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SignatureAction tags which co-signed action produced a signature record
type SignatureAction string

var (
	SignatureActionDeposit  SignatureAction = "deposit"
	SignatureActionWithdraw SignatureAction = "withdraw"
)

// ChannelSignature is the operator's fraud-proof evidence: the most recent
// co-signed balance state of a channel. There is exactly one per channel
// and it is always overwritten whole, in the same transaction as the
// channel row it belongs to. Only the deposit and withdraw handlers write it.
type ChannelSignature struct {
	ChannelKey     string          `gorm:"column:channel_key;primaryKey"`
	Balance1       decimal.Decimal `gorm:"column:balance_1;type:varchar(78);not null"`
	Balance2       decimal.Decimal `gorm:"column:balance_2;type:varchar(78);not null"`
	Nonce          uint64          `gorm:"column:nonce;default:0"`
	Action         SignatureAction `gorm:"column:action;not null"`
	Actor          string          `gorm:"column:actor"`
	OwnerSignature string          `gorm:"column:owner_signature;type:text"`
	OtherSignature string          `gorm:"column:other_signature;type:text"`
	Secret         string          `gorm:"column:secret"`
	UpdatedAt      time.Time
}

func (ChannelSignature) TableName() string {
	return "channel_signatures"
}

// OperatorBalance returns the recorded balance on the operator's side,
// given the channel the record belongs to.
func (s *ChannelSignature) OperatorBalance(channel *Channel, operator string) decimal.Decimal {
	if channel.Principal1 == operator {
		return s.Balance1
	}
	return s.Balance2
}

// GetChannelSignature retrieves the signature record for a channel.
// It returns nil without error when no co-signed state has been recorded yet.
func GetChannelSignature(tx *gorm.DB, channelKey string) (*ChannelSignature, error) {
	var sig ChannelSignature
	if err := tx.Where("channel_key = ?", channelKey).First(&sig).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching signature record for %s: %w", channelKey, err)
	}

	return &sig, nil
}

// SaveChannelSignature overwrites the signature record for a channel.
func SaveChannelSignature(tx *gorm.DB, sig *ChannelSignature) error {
	sig.UpdatedAt = time.Now()
	if err := tx.Save(sig).Error; err != nil {
		return fmt.Errorf("error saving signature record for %s: %w", sig.ChannelKey, err)
	}
	return nil
}
