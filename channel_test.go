package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelKey(t *testing.T) {
	t.Run("derives the storage key", func(t *testing.T) {
		key := ChannelKey{Principal1: testOperator, Principal2: testCounterparty, Token: testToken}
		assert.Equal(t, testOperator+":"+testCounterparty+":"+testToken, key.String())
	})

	t.Run("native channels omit the token segment", func(t *testing.T) {
		key := ChannelKey{Principal1: testOperator, Principal2: testCounterparty}
		assert.Equal(t, testOperator+":"+testCounterparty, key.String())
	})

	t.Run("principal order is part of the key", func(t *testing.T) {
		forward := ChannelKey{Principal1: testOperator, Principal2: testCounterparty}
		reversed := ChannelKey{Principal1: testCounterparty, Principal2: testOperator}
		assert.NotEqual(t, forward.String(), reversed.String())
	})

	t.Run("involves", func(t *testing.T) {
		key := ChannelKey{Principal1: testOperator, Principal2: testCounterparty}
		assert.True(t, key.Involves(testOperator))
		assert.True(t, key.Involves(testCounterparty))
		assert.False(t, key.Involves("SP999STRANGER"))
	})
}

func TestChannelSides(t *testing.T) {
	channel := &Channel{
		Principal1: testCounterparty,
		Principal2: testOperator,
		Balance1:   decimal.NewFromInt(40),
		Balance2:   decimal.NewFromInt(60),
	}

	assert.True(t, channel.OperatorBalance(testOperator).Equal(decimal.NewFromInt(60)))
	assert.Equal(t, testCounterparty, channel.Counterparty(testOperator))
}

func TestChannelStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	t.Run("unknown key returns nil without error", func(t *testing.T) {
		channel, err := GetChannelByKey(db, "SP1:SP2")
		require.NoError(t, err)
		assert.Nil(t, channel)
	})

	t.Run("save and reload", func(t *testing.T) {
		key := ChannelKey{Principal1: testOperator, Principal2: testCounterparty, Token: testToken}
		channel := &Channel{
			Key:        key.String(),
			Principal1: key.Principal1,
			Principal2: key.Principal2,
			Token:      key.Token,
			Balance1:   decimal.RequireFromString("123456789012345678901234567890"),
			Balance2:   decimal.NewFromInt(60),
			Nonce:      3,
			ExpiresAt:  10_000,
			State:      ChannelStateOpen,
		}
		require.NoError(t, SaveChannel(db, channel))

		loaded, err := GetChannelByKey(db, key.String())
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.True(t, loaded.Balance1.Equal(channel.Balance1))
		assert.Equal(t, uint64(3), loaded.Nonce)
		assert.False(t, loaded.CreatedAt.IsZero())

		// Saving again overwrites in place.
		channel.State = ChannelStateClosing
		channel.Nonce = 4
		require.NoError(t, SaveChannel(db, channel))

		loaded, err = GetChannelByKey(db, key.String())
		require.NoError(t, err)
		assert.Equal(t, ChannelStateClosing, loaded.State)
		assert.Equal(t, uint64(4), loaded.Nonce)
	})
}

func TestChannelSignatureStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	t.Run("unknown key returns nil without error", func(t *testing.T) {
		sig, err := GetChannelSignature(db, "SP1:SP2")
		require.NoError(t, err)
		assert.Nil(t, sig)
	})

	t.Run("one record per channel, overwritten in place", func(t *testing.T) {
		sig := &ChannelSignature{
			ChannelKey:     "SP1:SP2",
			Balance1:       decimal.NewFromInt(100),
			Balance2:       decimal.NewFromInt(50),
			Nonce:          5,
			Action:         SignatureActionDeposit,
			Actor:          testCounterparty,
			OwnerSignature: "0xowner",
			OtherSignature: "0xother",
		}
		require.NoError(t, SaveChannelSignature(db, sig))

		sig.Nonce = 6
		sig.Action = SignatureActionWithdraw
		require.NoError(t, SaveChannelSignature(db, sig))

		loaded, err := GetChannelSignature(db, "SP1:SP2")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, uint64(6), loaded.Nonce)
		assert.Equal(t, SignatureActionWithdraw, loaded.Action)
	})

	t.Run("operator balance follows channel orientation", func(t *testing.T) {
		channel := &Channel{Principal1: testCounterparty, Principal2: testOperator}
		sig := &ChannelSignature{
			Balance1: decimal.NewFromInt(40),
			Balance2: decimal.NewFromInt(60),
		}
		assert.True(t, sig.OperatorBalance(channel, testOperator).Equal(decimal.NewFromInt(60)))
	})
}
