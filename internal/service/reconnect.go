package service

import (
	"context"
	"errors"
	"time"

	"candybridge/internal/bridge"
	"candybridge/internal/logging"
)

// superviseReconnect restarts a failed connection every interval until ctx ends.
func (s *Service) superviseReconnect(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reconnect)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.manager.State() != bridge.StateFailed {
			attempts = 0
			continue
		}
		attempts++
		err := s.manager.Start(ctx, s.cfg.Gate.Endpoint, s.router)
		switch {
		case err == nil:
			s.logger.Info("reconnected to gateway",
				logging.Int("attempt", attempts),
				logging.String(logging.FieldEventType, "reconnect_succeeded"),
			)
			attempts = 0
		case errors.Is(err, bridge.ErrAlreadyStarted), errors.Is(err, bridge.ErrStopped), ctx.Err() != nil:
		default:
			s.logger.Debug("reconnect attempt failed",
				logging.Int("attempt", attempts),
				logging.Error(err),
			)
		}
	}
}
