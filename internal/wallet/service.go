package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatcoin/internal/audit"
	"chatcoin/internal/infra"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service 钱包管理服务（余额查询、充值、赠送金币发放与回收）
type Service struct {
	db     *gorm.DB
	repo   *Repository
	audits *audit.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService 创建钱包服务
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		repo:   NewRepository(db),
		audits: audit.NewRepository(db),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OpenWallet 获取或创建钱包（用户开户时调用）
func (s *Service) OpenWallet(ctx context.Context, userID string) (*Wallet, error) {
	w, err := s.repo.FindByUser(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	return s.repo.Create(ctx, userID)
}

// GetWallet 查询钱包
func (s *Service) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	return s.repo.FindByUser(ctx, userID)
}

// ListTransactions 查询用户金币流水
func (s *Service) ListTransactions(ctx context.Context, q audit.ListQuery) ([]audit.CoinTransaction, int64, error) {
	return s.audits.List(ctx, q)
}

// ============ 管理员操作 ============

// Recharge 充值金币
func (s *Service) Recharge(ctx context.Context, req *AdjustRequest) (*Wallet, *audit.CoinTransaction, error) {
	return s.adjust(ctx, req, audit.TransactionTypePurchase, func(w Wallet, now time.Time) (Wallet, error) {
		return w.AddPaid(req.Amount, now)
	}, req.Amount)
}

// GrantPromotion 发放赠送金币
func (s *Service) GrantPromotion(ctx context.Context, req *AdjustRequest) (*Wallet, *audit.CoinTransaction, error) {
	return s.adjust(ctx, req, audit.TransactionTypePromotionGrant, func(w Wallet, now time.Time) (Wallet, error) {
		return w.AddPromotion(req.Amount, now)
	}, req.Amount)
}

// RevokePromotion 回收赠送金币
func (s *Service) RevokePromotion(ctx context.Context, req *AdjustRequest) (*Wallet, *audit.CoinTransaction, error) {
	return s.adjust(ctx, req, audit.TransactionTypePromotionRevoke, func(w Wallet, now time.Time) (Wallet, error) {
		return w.DeductPromotion(req.Amount, now)
	}, req.Amount.Neg())
}

type mutation func(w Wallet, now time.Time) (Wallet, error)

// adjust 在同一事务内完成余额变更与流水写入
func (s *Service) adjust(ctx context.Context, req *AdjustRequest, txType audit.TransactionType, apply mutation, signed decimal.Decimal) (*Wallet, *audit.CoinTransaction, error) {
	if !req.Amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}

	var (
		updated Wallet
		record  *audit.CoinTransaction
	)
	err := infra.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.FindByUserForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}

		updated, err = apply(*current, s.now())
		if err != nil {
			return err
		}
		if err := repo.Save(ctx, &updated); err != nil {
			return err
		}

		record = &audit.CoinTransaction{
			UserID:          req.UserID,
			TransactionType: txType,
			Amount:          signed,
			BalanceAfter:    updated.Balance,
			Description:     describe(txType, req),
		}
		if req.OperatorID != "" {
			op := req.OperatorID
			record.OperatorID = &op
		}
		return s.audits.WithTx(tx).Append(ctx, record)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("钱包余额已调整",
		zap.String("user_id", req.UserID),
		zap.String("type", string(txType)),
		zap.String("amount", signed.String()),
		zap.String("balance", updated.Balance.String()),
		zap.String("operator_id", req.OperatorID),
	)
	return &updated, record, nil
}

func describe(txType audit.TransactionType, req *AdjustRequest) string {
	if req.Description != "" {
		return req.Description
	}
	switch txType {
	case audit.TransactionTypePurchase:
		return fmt.Sprintf("充值 %s 金币", req.Amount)
	case audit.TransactionTypePromotionGrant:
		return fmt.Sprintf("发放赠送金币 %s", req.Amount)
	case audit.TransactionTypePromotionRevoke:
		return fmt.Sprintf("回收赠送金币 %s", req.Amount)
	}
	return string(txType)
}
