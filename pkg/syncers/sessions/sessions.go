// Package sessions removes expired console sessions from the session store.
package sessions

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/alris/cms-backend/pkg/service"
)

type Syncer struct {
	storage service.SessionStorage
	clock   clock.WithTicker
	log     zerolog.Logger
}

func New(storage service.SessionStorage, clk clock.WithTicker, log zerolog.Logger) *Syncer {
	return &Syncer{
		storage: storage,
		clock:   clk,
		log:     log,
	}
}

func (s *Syncer) Run(ctx context.Context, frequency time.Duration) {
	s.log.Info().Dur("frequency", frequency).Msg("Starting session cleaner")

	ticker := s.clock.NewTicker(frequency)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.RunOnce(ctx)
		}
	}
}

func (s *Syncer) RunOnce(ctx context.Context) {
	n, err := s.storage.DeleteExpiredSessions(ctx, s.clock.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("deleting expired sessions")
		return
	}

	if n > 0 {
		s.log.Info().Int64("sessions", n).Msg("deleted expired sessions")
	}
}
