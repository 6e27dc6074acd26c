package session

import (
	"context"
	"log/slog"

	"github.com/minutron/minutron/internal/entity"
)

// Decisions carries out the post-render choices of privileged requesters.
type Decisions interface {
	Print(ctx context.Context, requester, path string) error
	Labels(ctx context.Context, requester string, items []entity.LineItem, copies int) error
}

// LogDecisions records print and label requests without driving hardware.
type LogDecisions struct {
	logger *slog.Logger
}

func NewLogDecisions(logger *slog.Logger) *LogDecisions {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDecisions{logger: logger}
}

func (d *LogDecisions) Print(_ context.Context, requester, path string) error {
	d.logger.Info("decisions.print.requested", "requester", requester, "path", path)
	return nil
}

func (d *LogDecisions) Labels(_ context.Context, requester string, items []entity.LineItem, copies int) error {
	d.logger.Info("decisions.labels.requested",
		"requester", requester,
		"items", len(items),
		"labels", len(items)*max(copies, 1),
	)
	return nil
}
