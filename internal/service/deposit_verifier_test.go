package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/ledger"
	"github.com/alanyoungcy/marketescrow/internal/service"
)

func validClaim(hash string) service.DepositClaim {
	return service.DepositClaim{
		TxHash:         hash,
		Wallet:         creatorAddr.Hex(),
		TokenContract:  tokenAddr.Hex(),
		RequiredAmount: dec("25"),
		Purpose:        domain.PurposeCreatorDeposit,
	}
}

func TestVerifyAcceptsValidDeposit(t *testing.T) {
	l := newFakeLedger()
	store := newFakeStore()
	v := service.NewDepositVerifier(l, store, 6, nil, discardLogger())

	hash := txHash(1)
	l.addTransfer(hash, creatorAddr, 30_000_000, 998)

	claim := validClaim(hash)
	claim.Wallet = "0x1111111111111111111111111111111111111111"
	got, err := v.Verify(context.Background(), claim)
	require.NoError(t, err)

	assert.Equal(t, hash, got.TxHash)
	assert.Equal(t, creatorAddr.Hex(), got.Wallet)
	assert.True(t, dec("30").Equal(got.Amount))
	assert.Equal(t, int64(30_000_000), got.AmountRaw.Int64())
	assert.Equal(t, uint64(998), got.BlockNumber)
	assert.Equal(t, 3, got.Confirmations)
}

func TestVerifyAcceptsMinedTxWithoutReceipt(t *testing.T) {
	l := newFakeLedger()
	v := service.NewDepositVerifier(l, newFakeStore(), 6, nil, discardLogger())

	hash := txHash(2)
	l.addTransfer(hash, creatorAddr, 25_000_000, 1000)
	l.dropReceipt(hash)

	got, err := v.Verify(context.Background(), validClaim(hash))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Confirmations)
}

func TestVerifyFailures(t *testing.T) {
	hash := txHash(7)

	tests := []struct {
		name  string
		setup func(l *fakeLedger, s *fakeStore, c *service.DepositClaim)
		want  *domain.Error
		kind  error
	}{
		{
			name:  "malformed hash",
			setup: func(_ *fakeLedger, _ *fakeStore, c *service.DepositClaim) { c.TxHash = "0x1234" },
			want:  domain.ErrInvalidTxHash,
			kind:  domain.ErrValidation,
		},
		{
			name:  "hash without prefix",
			setup: func(_ *fakeLedger, _ *fakeStore, c *service.DepositClaim) { c.TxHash = hash[2:] + "00" },
			want:  domain.ErrInvalidTxHash,
			kind:  domain.ErrValidation,
		},
		{
			name:  "malformed wallet",
			setup: func(_ *fakeLedger, _ *fakeStore, c *service.DepositClaim) { c.Wallet = "alice" },
			want:  domain.ErrInvalidWallet,
			kind:  domain.ErrValidation,
		},
		{
			name:  "hash already used",
			setup: func(_ *fakeLedger, s *fakeStore, _ *service.DepositClaim) { s.txHashes[hash] = true },
			want:  domain.ErrDuplicateTransaction,
			kind:  domain.ErrVerification,
		},
		{
			name: "not on chain",
			setup: func(l *fakeLedger, _ *fakeStore, _ *service.DepositClaim) {
				delete(l.txs, hash)
			},
			want: domain.ErrTxNotFound,
			kind: domain.ErrVerification,
		},
		{
			name: "not mined",
			setup: func(l *fakeLedger, _ *fakeStore, _ *service.DepositClaim) {
				tx := l.txs[hash]
				tx.BlockNumber = nil
				l.txs[hash] = tx
			},
			want: domain.ErrTxUnconfirmed,
			kind: domain.ErrVerification,
		},
		{
			name:  "sender mismatch",
			setup: func(_ *fakeLedger, _ *fakeStore, c *service.DepositClaim) { c.Wallet = aliceAddr.Hex() },
			want:  domain.ErrSenderMismatch,
			kind:  domain.ErrVerification,
		},
		{
			name: "wrong contract",
			setup: func(l *fakeLedger, _ *fakeStore, _ *service.DepositClaim) {
				tx := l.txs[hash]
				other := common.HexToAddress("0x9999999999999999999999999999999999999999")
				tx.To = &other
				l.txs[hash] = tx
			},
			want: domain.ErrWrongContract,
			kind: domain.ErrVerification,
		},
		{
			name: "contract creation",
			setup: func(l *fakeLedger, _ *fakeStore, _ *service.DepositClaim) {
				tx := l.txs[hash]
				tx.To = nil
				l.txs[hash] = tx
			},
			want: domain.ErrWrongContract,
			kind: domain.ErrVerification,
		},
		{
			name: "not a transfer",
			setup: func(l *fakeLedger, _ *fakeStore, _ *service.DepositClaim) {
				tx := l.txs[hash]
				tx.Input = common.FromHex("0x095ea7b3")
				l.txs[hash] = tx
			},
			want: domain.ErrNotATransfer,
			kind: domain.ErrVerification,
		},
		{
			name:  "paid to someone else",
			setup: func(_ *fakeLedger, _ *fakeStore, c *service.DepositClaim) { c.Recipient = aliceAddr.Hex() },
			want:  domain.ErrRecipientMismatch,
			kind:  domain.ErrVerification,
		},
		{
			name:  "insufficient amount",
			setup: func(_ *fakeLedger, _ *fakeStore, c *service.DepositClaim) { c.RequiredAmount = dec("25.000001") },
			want:  domain.ErrInsufficientAmount,
			kind:  domain.ErrVerification,
		},
		{
			name: "reverted",
			setup: func(l *fakeLedger, _ *fakeStore, _ *service.DepositClaim) {
				r := l.receipts[hash]
				r.Status = types.ReceiptStatusFailed
				l.receipts[hash] = r
			},
			want: domain.ErrTxReverted,
			kind: domain.ErrVerification,
		},
		{
			name:  "ledger down",
			setup: func(l *fakeLedger, _ *fakeStore, _ *service.DepositClaim) { l.txErr = errors.New("dial tcp: connection refused") },
			want:  domain.ErrLedgerUnavailable,
			kind:  domain.ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger()
			s := newFakeStore()
			l.addTransfer(hash, creatorAddr, 25_000_000, 990)
			claim := validClaim(hash)
			tt.setup(l, s, &claim)

			v := service.NewDepositVerifier(l, s, 6, nil, discardLogger())
			_, err := v.Verify(context.Background(), claim)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestVerifyAcceptsEscrowRecipient(t *testing.T) {
	l := newFakeLedger()
	v := service.NewDepositVerifier(l, newFakeStore(), 6, nil, discardLogger())
	hash := txHash(4)
	l.addTransfer(hash, creatorAddr, 25_000_000, 990)

	claim := validClaim(hash)
	claim.Recipient = "0x00000000000000000000000000000000000000E5"
	_, err := v.Verify(context.Background(), claim)
	require.NoError(t, err)
}

func TestVerifyReportsRequiredAndActual(t *testing.T) {
	l := newFakeLedger()
	v := service.NewDepositVerifier(l, newFakeStore(), 6, nil, discardLogger())
	hash := txHash(3)
	l.addTransfer(hash, creatorAddr, 10_500_000, 990)

	_, err := v.Verify(context.Background(), validClaim(hash))
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "INSUFFICIENT_AMOUNT", de.Code)
	assert.Equal(t, "25", de.Details["required"])
	assert.Equal(t, "10.5", de.Details["actual"])
	assert.Contains(t, de.Message, "required 25 got 10.5")
}

func TestVerifyChecksRunInOrder(t *testing.T) {
	// Sender and contract are both wrong; the sender check comes first.
	l := newFakeLedger()
	v := service.NewDepositVerifier(l, newFakeStore(), 6, nil, discardLogger())
	hash := txHash(4)
	l.addTransfer(hash, bobAddr, 1, 990)
	tx := l.txs[hash]
	tx.To = &carolAddr
	l.txs[hash] = tx

	_, err := v.Verify(context.Background(), validClaim(hash))
	assert.ErrorIs(t, err, domain.ErrSenderMismatch)
	assert.NotErrorIs(t, err, domain.ErrWrongContract)
}

var _ service.Ledger = (*ledger.Client)(nil)
