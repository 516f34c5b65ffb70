package generation

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/message"
)

// Level is the severity of a Notice.
type Level string

// Notice levels.
const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a user-facing notification.
type Notice struct {
	Level  Level
	Title  string
	Detail string
	Key    message.Key
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// LogNotifier writes notices to the global zap logger.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, n Notice) {
	fields := []zap.Field{zap.String("detail", n.Detail)}
	if n.Key.AffiliateID != 0 {
		fields = append(fields, zap.Stringer("key", n.Key))
	}
	switch n.Level {
	case LevelError:
		zap.L().Error(n.Title, fields...)
	case LevelWarning:
		zap.L().Warn(n.Title, fields...)
	default:
		zap.L().Info(n.Title, fields...)
	}
}
