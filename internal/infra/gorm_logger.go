package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatcoin/internal/logger"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// SQLLogger 把 gorm 日志写入 zap，并带上请求上下文中的 request_id/user_id
// 记录不存在由仓储转换为业务错误，不记日志；客户端断开导致的取消降为 Warn
type SQLLogger struct {
	base  *zap.Logger
	level gormLogger.LogLevel
	slow  time.Duration
}

// NewSQLLogger 创建 gorm 日志适配器，slow 为 0 时不报告慢查询
func NewSQLLogger(base *zap.Logger, level gormLogger.LogLevel, slow time.Duration) *SQLLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &SQLLogger{base: base, level: level, slow: slow}
}

func (l *SQLLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.log(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.log(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.log(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}
	log := l.log(ctx)

	switch {
	case err != nil && errors.Is(err, gormLogger.ErrRecordNotFound):
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		log.Warn("SQL 因上下文结束中断", append(fields, zap.Error(err))...)
		return
	case err != nil && l.level >= gormLogger.Error:
		log.Error("SQL 执行失败", append(fields, zap.Error(err))...)
		return
	}

	if l.slow > 0 && elapsed > l.slow && l.level >= gormLogger.Warn {
		log.Warn("SQL 慢查询", append(fields, zap.Duration("threshold", l.slow))...)
		return
	}
	if l.level >= gormLogger.Info {
		log.Debug("SQL", fields...)
	}
}

func (l *SQLLogger) log(ctx context.Context) *zap.Logger {
	return logger.FromContext(ctx, l.base)
}
