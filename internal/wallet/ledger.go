package wallet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// 以下方法均为纯函数：返回更新后的副本，不修改接收者

// AddPaid 增加充值金币
func (w Wallet) AddPaid(amount decimal.Decimal, now time.Time) (Wallet, error) {
	if !amount.IsPositive() {
		return w, ErrInvalidAmount
	}
	w.PaidBalance = w.PaidBalance.Add(amount)
	w.TotalPurchased = w.TotalPurchased.Add(amount)
	return w.touch(now), nil
}

// AddPromotion 增加赠送金币
func (w Wallet) AddPromotion(amount decimal.Decimal, now time.Time) (Wallet, error) {
	if !amount.IsPositive() {
		return w, ErrInvalidAmount
	}
	w.PromotionBalance = w.PromotionBalance.Add(amount)
	return w.touch(now), nil
}

// DeductPromotion 只扣赠送金币，不足时拒绝
func (w Wallet) DeductPromotion(amount decimal.Decimal, now time.Time) (Wallet, error) {
	if !amount.IsPositive() {
		return w, ErrInvalidAmount
	}
	if amount.GreaterThan(w.PromotionBalance) {
		return w, ErrInsufficientPromotionBalance
	}
	w.PromotionBalance = w.PromotionBalance.Sub(amount)
	return w.touch(now), nil
}

// Deduct 消费扣款：先扣赠送金币，不足部分再扣充值金币
// 本身不检查总余额，调用方需先校验；充值金币被扣为负时 Overdrawn 返回 true
func (w Wallet) Deduct(amount decimal.Decimal, now time.Time) (Wallet, error) {
	if !amount.IsPositive() {
		return w, ErrInvalidAmount
	}
	if w.PromotionBalance.GreaterThanOrEqual(amount) {
		w.PromotionBalance = w.PromotionBalance.Sub(amount)
	} else {
		remaining := amount.Sub(w.PromotionBalance)
		w.PromotionBalance = decimal.Zero
		w.PaidBalance = w.PaidBalance.Sub(remaining)
	}
	w.TotalUsed = w.TotalUsed.Add(amount)
	return w.touch(now), nil
}

// Overdrawn 充值金币是否透支
func (w Wallet) Overdrawn() bool {
	return w.PaidBalance.IsNegative()
}

// CheckInvariant 校验 balance == paid + promotion 且两者非负
func (w Wallet) CheckInvariant() error {
	if !w.Balance.Equal(w.PaidBalance.Add(w.PromotionBalance)) {
		return fmt.Errorf("%w: balance=%s paid=%s promotion=%s",
			ErrInvariantViolation, w.Balance, w.PaidBalance, w.PromotionBalance)
	}
	if w.PromotionBalance.IsNegative() || w.PaidBalance.IsNegative() {
		return fmt.Errorf("%w: paid=%s promotion=%s",
			ErrInvariantViolation, w.PaidBalance, w.PromotionBalance)
	}
	return nil
}

func (w Wallet) touch(now time.Time) Wallet {
	w.Balance = w.PaidBalance.Add(w.PromotionBalance)
	t := now
	w.LastTransactionAt = &t
	return w
}
