package telegram

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Updater is the slice of the client the poller needs.
type Updater interface {
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error)
}

// Poller long-polls getUpdates and hands every update to a handler.
type Poller struct {
	api     Updater
	timeout time.Duration
	backoff time.Duration
	logger  *slog.Logger
}

func NewPoller(api Updater, timeout time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{api: api, timeout: timeout, backoff: 2 * time.Second, logger: logger}
}

// Run polls until ctx is done. Handler calls happen on the polling
// goroutine in update order.
func (p *Poller) Run(ctx context.Context, handle func(context.Context, tgbotapi.Update)) error {
	var offset int
	p.logger.Info("telegram.poll.started", "timeout_s", int(p.timeout.Seconds()))
	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info("telegram.poll.stopped")
			return nil
		}
		ups, err := p.api.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("telegram.poll.failed", "error", err, "retry_in", p.backoff.String())
			select {
			case <-ctx.Done():
			case <-time.After(p.backoff):
			}
			continue
		}
		for _, u := range ups {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			handle(ctx, u)
		}
	}
}
