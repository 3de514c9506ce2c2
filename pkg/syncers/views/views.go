// Package views closes list views that have been left idle.
package views

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

type Evicter interface {
	Evict() int
}

type Syncer struct {
	views Evicter
	clock clock.WithTicker
	log   zerolog.Logger
}

func New(views Evicter, clk clock.WithTicker, log zerolog.Logger) *Syncer {
	return &Syncer{
		views: views,
		clock: clk,
		log:   log,
	}
}

func (s *Syncer) Run(ctx context.Context, frequency time.Duration) {
	s.log.Info().Dur("frequency", frequency).Msg("Starting idle view reaper")

	ticker := s.clock.NewTicker(frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.RunOnce()
		}
	}
}

func (s *Syncer) RunOnce() {
	if n := s.views.Evict(); n > 0 {
		s.log.Info().Int("views", n).Msg("closed idle views")
	}
}
