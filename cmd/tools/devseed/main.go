package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"chatcoin/api"
	"chatcoin/internal/auth"
	"chatcoin/internal/billing"
	"chatcoin/internal/chat"
	"chatcoin/internal/config"
	"chatcoin/internal/infra"
	"chatcoin/internal/logger"
	"chatcoin/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 本地联调用：创建用户、聊天室、模型定价并充值，打印可直接使用的访问令牌
func main() {
	env := flag.String("env", "dev", "配置环境 dev/prod/test")
	username := flag.String("user", "demo", "用户名")
	modelName := flag.String("model", "chat-pro", "模型名称")
	inputPrice := flag.String("input-price", "100", "每百万输入 token 的金币数")
	outputPrice := flag.String("output-price", "200", "每百万输出 token 的金币数")
	paid := flag.String("paid", "100", "充值金币")
	promotion := flag.String("promotion", "0", "赠送金币")
	admin := flag.Bool("admin", false, "令牌附带管理员角色")
	flag.Parse()

	cfg, err := config.Load(*env, "")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := logger.Init("warn", "console", "stdout"); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}

	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer infra.CloseDatabase()

	if err := infra.AutoMigrate(db, api.AllModels()...); err != nil {
		log.Fatalf("迁移失败: %v", err)
	}

	ctx := context.Background()

	user, err := ensureUser(ctx, db, *username)
	if err != nil {
		log.Fatalf("创建用户失败: %v", err)
	}

	room := &chat.Room{UserID: user.ID, Title: "联调"}
	if err := chat.NewRepository(db).CreateRoom(ctx, room); err != nil {
		log.Fatalf("创建聊天室失败: %v", err)
	}

	model, err := ensureModel(ctx, db, *modelName, *inputPrice, *outputPrice)
	if err != nil {
		log.Fatalf("创建模型失败: %v", err)
	}

	walletSvc := wallet.NewService(db, logger.Get())
	if _, err := walletSvc.OpenWallet(ctx, user.ID); err != nil {
		log.Fatalf("开户失败: %v", err)
	}
	if amount := decimal.RequireFromString(*paid); amount.IsPositive() {
		if _, _, err := walletSvc.Recharge(ctx, &wallet.AdjustRequest{UserID: user.ID, Amount: amount, Description: "devseed"}); err != nil {
			log.Fatalf("充值失败: %v", err)
		}
	}
	if amount := decimal.RequireFromString(*promotion); amount.IsPositive() {
		if _, _, err := walletSvc.GrantPromotion(ctx, &wallet.AdjustRequest{UserID: user.ID, Amount: amount, Description: "devseed"}); err != nil {
			log.Fatalf("发放赠送金币失败: %v", err)
		}
	}

	w, err := walletSvc.GetWallet(ctx, user.ID)
	if err != nil {
		log.Fatalf("查询钱包失败: %v", err)
	}

	roles := []string{"user"}
	if *admin {
		roles = append(roles, auth.RoleAdmin)
	}
	token, err := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, nil).GenerateAccessToken(user.ID, roles)
	if err != nil {
		log.Fatalf("签发令牌失败: %v", err)
	}

	fmt.Printf("user_id:  %s\n", user.ID)
	fmt.Printf("room_id:  %s\n", room.ID)
	fmt.Printf("model_id: %s (%s)\n", model.ID, model.Name)
	fmt.Printf("balance:  %s (paid %s, promotion %s)\n", w.Balance, w.PaidBalance, w.PromotionBalance)
	fmt.Printf("roles:    %s\n", strings.Join(roles, ","))
	fmt.Printf("token:    %s\n", token)
}

func ensureUser(ctx context.Context, db *gorm.DB, username string) (*chat.User, error) {
	var u chat.User
	err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	u = chat.User{ID: uuid.New().String(), Username: username, Status: chat.UserStatusActive}
	return &u, db.WithContext(ctx).Create(&u).Error
}

func ensureModel(ctx context.Context, db *gorm.DB, name, inputPrice, outputPrice string) (*billing.AIModel, error) {
	var m billing.AIModel
	err := db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return billing.NewService(db).CreateModel(ctx, &billing.CreateModelRequest{
		Name:             name,
		InputPricePer1M:  decimal.RequireFromString(inputPrice),
		OutputPricePer1M: decimal.RequireFromString(outputPrice),
	})
}
