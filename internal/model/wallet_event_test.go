package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "wallet.funds_deposited", RoutingKey(EventFundsDeposited))
	assert.Equal(t, "wallet.funds_withdrawn", RoutingKey(EventFundsWithdrawn))
	assert.Equal(t, "wallet.transfer_completed", RoutingKey(EventTransferCompleted))
	assert.Equal(t, "wallet.wallet_created", RoutingKey(EventWalletCreated))
}

func TestWalletEventImmutableHooks(t *testing.T) {
	var e WalletEvent
	assert.ErrorIs(t, e.BeforeUpdate(nil), ErrEventImmutable)
	assert.ErrorIs(t, e.BeforeDelete(nil), ErrEventImmutable)
}
