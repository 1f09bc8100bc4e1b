package wallet

import (
	"context"
	"testing"
	"time"

	"chatcoin/internal/audit"
	"chatcoin/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewDB(t, &Wallet{}, &audit.CoinTransaction{})
	svc := NewService(db, zaptest.NewLogger(t))
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestService_OpenWallet_Idempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w1, err := svc.OpenWallet(ctx, "u1")
	require.NoError(t, err)
	w2, err := svc.OpenWallet(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, w1.ID, w2.ID)
	assert.True(t, w2.Balance.IsZero())
}

func TestService_RechargeAndPromotions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.OpenWallet(ctx, "u1")
	require.NoError(t, err)

	w, rec, err := svc.Recharge(ctx, &AdjustRequest{UserID: "u1", Amount: d("100"), OperatorID: "admin-1"})
	require.NoError(t, err)
	assert.True(t, w.PaidBalance.Equal(d("100")))
	assert.Equal(t, audit.TransactionTypePurchase, rec.TransactionType)
	assert.True(t, rec.Amount.Equal(d("100")))
	require.NotNil(t, rec.OperatorID)
	assert.Equal(t, "admin-1", *rec.OperatorID)

	w, _, err = svc.GrantPromotion(ctx, &AdjustRequest{UserID: "u1", Amount: d("30")})
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d("130")))

	w, rec, err = svc.RevokePromotion(ctx, &AdjustRequest{UserID: "u1", Amount: d("10")})
	require.NoError(t, err)
	assert.True(t, w.PromotionBalance.Equal(d("20")))
	assert.True(t, rec.Amount.Equal(d("-10")))
	assert.True(t, rec.BalanceAfter.Equal(d("120")))

	stored, err := svc.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stored.Balance.Equal(d("120")))
	assert.NoError(t, stored.CheckInvariant())
	assert.EqualValues(t, 3, stored.Version)

	items, total, err := svc.ListTransactions(ctx, audit.ListQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, items, 3)
}

func TestService_RevokePromotion_Insufficient(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.OpenWallet(ctx, "u1")
	require.NoError(t, err)
	_, _, err = svc.GrantPromotion(ctx, &AdjustRequest{UserID: "u1", Amount: d("5")})
	require.NoError(t, err)

	_, _, err = svc.RevokePromotion(ctx, &AdjustRequest{UserID: "u1", Amount: d("6")})
	assert.ErrorIs(t, err, ErrInsufficientPromotionBalance)

	// 事务回滚，不产生流水
	_, total, err := svc.ListTransactions(ctx, audit.ListQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestService_Adjust_Errors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Recharge(ctx, &AdjustRequest{UserID: "nobody", Amount: d("1")})
	assert.ErrorIs(t, err, ErrWalletNotFound)

	_, _, err = svc.Recharge(ctx, &AdjustRequest{UserID: "nobody", Amount: d("0")})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRepository_Save_OptimisticLock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.OpenWallet(ctx, "u1")
	require.NoError(t, err)

	repo := svc.repo
	first, err := repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	stale := *first

	updated, err := first.AddPaid(d("10"), testNow)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, &updated))
	assert.EqualValues(t, 1, updated.Version)

	staleUpdated, err := stale.AddPaid(d("5"), testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Save(ctx, &staleUpdated), ErrConcurrentUpdate)

	stored, err := repo.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stored.PaidBalance.Equal(d("10")))
}
