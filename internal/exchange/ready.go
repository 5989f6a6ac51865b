package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/skalibog/sigbot/pkg/logger"
	"go.uber.org/zap"
)

// Pinger проверка доступности биржи
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitReady пингует биржу с экспоненциальной задержкой, пока она не ответит
// или не истечет timeout
func WaitReady(ctx context.Context, p Pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := p.Ping(ctx)
		if err == nil {
			logger.Info("Биржа доступна", zap.Float64("attempts", b.Attempt()+1))
			return nil
		}

		wait := b.Duration()
		logger.Warn("Биржа не отвечает, повтор", zap.Error(err), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return fmt.Errorf("биржа не ответила за %s: %w", timeout, err)
		case <-time.After(wait):
		}
	}
}
