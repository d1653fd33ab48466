package gate

import (
	"time"

	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// retryLogger handles all per-dependency polling logs.
type retryLogger struct {
	logger logger.Logger
}

func (rl *retryLogger) logReady(attempts int, elapsed time.Duration) {
	if attempts > 1 {
		rl.logger.Warn("dependency ready after retry",
			logger.Int("attempts", attempts),
			logger.Duration("elapsed", elapsed))
		return
	}
	rl.logger.Info("dependency ready")
}

func (rl *retryLogger) logRetry(res probe.Result, remaining, nextRetry time.Duration, warnThreshold int) {
	switch {
	case remaining >= 0 && remaining < 10*time.Second:
		rl.logger.Error("dependency still down - retrying but deadline approaching",
			logger.Int("attempt", res.Attempt),
			logger.String("outcome", res.Outcome.String()),
			logger.Duration("remaining", remaining),
			logger.Duration("next_retry_in", nextRetry),
			logger.Error(res.Err))
	case res.Attempt <= warnThreshold:
		rl.logger.Warn("dependency not ready, retrying",
			logger.Int("attempt", res.Attempt),
			logger.String("outcome", res.Outcome.String()),
			logger.Duration("next_retry_in", nextRetry),
			logger.Error(res.Err))
	default:
		rl.logger.Error("dependency still unavailable - probe attempts failing",
			logger.Int("attempt", res.Attempt),
			logger.String("outcome", res.Outcome.String()),
			logger.Duration("next_retry_in", nextRetry),
			logger.Error(res.Err))
	}
}
