// Package social defines the auto-post collaborator. The actual delivery
// mechanism lives outside this repository; the default implementation only
// logs what would be posted.
package social

import (
	"context"
	"log/slog"
)

type Poster interface {
	Post(ctx context.Context, text string) error
}

type LogPoster struct {
	log *slog.Logger
}

func NewLogPoster(log *slog.Logger) *LogPoster { return &LogPoster{log: log} }

func (p *LogPoster) Post(_ context.Context, text string) error {
	p.log.Info("social post ready", slog.String("text", text))
	return nil
}
