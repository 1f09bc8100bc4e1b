package settlement

import (
	"context"

	"chatcoin/internal/audit"
	"chatcoin/internal/billing"
	"chatcoin/internal/chat"
	"chatcoin/internal/infra"
	"chatcoin/internal/wallet"

	"gorm.io/gorm"
)

// Store 结算流程需要的持久化能力
type Store interface {
	LoadUser(ctx context.Context, userID string) (*chat.User, error)
	LoadRoom(ctx context.Context, roomID string) (*chat.Room, error)
	LoadActiveModel(ctx context.Context, modelID string) (*billing.AIModel, error)
	LoadWallet(ctx context.Context, userID string) (*wallet.Wallet, error)
	RecentHistory(ctx context.Context, roomID string, limit int) ([]chat.Message, error)

	// CreatePendingMessage 独立事务写入待结算的用户消息
	CreatePendingMessage(ctx context.Context, msg *chat.Message) error
	// DeleteMessage 补偿删除
	DeleteMessage(ctx context.Context, id string) error

	// Settle 在一个事务中执行 fn，fn 返回错误时整体回滚
	Settle(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// UnitOfWork 结算事务内可用的操作
type UnitOfWork interface {
	LoadWalletForUpdate(ctx context.Context, userID string) (*wallet.Wallet, error)
	SaveWallet(ctx context.Context, w *wallet.Wallet) error
	CreateMessage(ctx context.Context, msg *chat.Message) error
	UpdateMessage(ctx context.Context, msg *chat.Message) error
	UpdateRoomConversation(ctx context.Context, roomID, conversationID string) error
	AppendAuditRecord(ctx context.Context, rec *audit.CoinTransaction) error
}

// GormStore 基于 gorm 的 Store 实现
type GormStore struct {
	db      *gorm.DB
	chats   *chat.Repository
	wallets *wallet.Repository
	audits  *audit.Repository
	models  *billing.Service
}

// NewGormStore 创建 Store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:      db,
		chats:   chat.NewRepository(db),
		wallets: wallet.NewRepository(db),
		audits:  audit.NewRepository(db),
		models:  billing.NewService(db),
	}
}

func (s *GormStore) LoadUser(ctx context.Context, userID string) (*chat.User, error) {
	return s.chats.FindUser(ctx, userID)
}

func (s *GormStore) LoadRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	return s.chats.FindRoom(ctx, roomID)
}

func (s *GormStore) LoadActiveModel(ctx context.Context, modelID string) (*billing.AIModel, error) {
	return s.models.LoadActiveModel(ctx, modelID)
}

func (s *GormStore) LoadWallet(ctx context.Context, userID string) (*wallet.Wallet, error) {
	return s.wallets.FindByUser(ctx, userID)
}

func (s *GormStore) RecentHistory(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	return s.chats.RecentHistory(ctx, roomID, limit)
}

func (s *GormStore) CreatePendingMessage(ctx context.Context, msg *chat.Message) error {
	return infra.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		return s.chats.WithTx(tx).CreateMessage(ctx, msg)
	})
}

func (s *GormStore) DeleteMessage(ctx context.Context, id string) error {
	return s.chats.DeleteMessage(ctx, id)
}

func (s *GormStore) Settle(ctx context.Context, fn func(uow UnitOfWork) error) error {
	return infra.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		return fn(&gormUnitOfWork{
			chats:   s.chats.WithTx(tx),
			wallets: s.wallets.WithTx(tx),
			audits:  s.audits.WithTx(tx),
		})
	})
}

type gormUnitOfWork struct {
	chats   *chat.Repository
	wallets *wallet.Repository
	audits  *audit.Repository
}

func (u *gormUnitOfWork) LoadWalletForUpdate(ctx context.Context, userID string) (*wallet.Wallet, error) {
	return u.wallets.FindByUserForUpdate(ctx, userID)
}

func (u *gormUnitOfWork) SaveWallet(ctx context.Context, w *wallet.Wallet) error {
	return u.wallets.Save(ctx, w)
}

func (u *gormUnitOfWork) CreateMessage(ctx context.Context, msg *chat.Message) error {
	return u.chats.CreateMessage(ctx, msg)
}

func (u *gormUnitOfWork) UpdateMessage(ctx context.Context, msg *chat.Message) error {
	return u.chats.UpdateMessage(ctx, msg)
}

func (u *gormUnitOfWork) UpdateRoomConversation(ctx context.Context, roomID, conversationID string) error {
	return u.chats.UpdateRoomConversation(ctx, roomID, conversationID)
}

func (u *gormUnitOfWork) AppendAuditRecord(ctx context.Context, rec *audit.CoinTransaction) error {
	return u.audits.Append(ctx, rec)
}
