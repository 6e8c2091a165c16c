package delivery

import (
	"context"
	"errors"
	"log"
	"time"

	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
)

// Sweeper is the periodic job promoting due scheduled messages into real
// messages. It holds no gateway logic of its own: every delivery goes
// through the Deliverer's shared publish path.
type Sweeper struct {
	schedRepo repositories.ScheduledMessageRepository
	deliverer *Deliverer
	interval  time.Duration
	now       func() time.Time
}

// NewSweeper constructs a Sweeper.
func NewSweeper(schedRepo repositories.ScheduledMessageRepository, deliverer *Deliverer, interval time.Duration) *Sweeper {
	return &Sweeper{
		schedRepo: schedRepo,
		deliverer: deliverer,
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep delivers every scheduled message whose time has come.
func (s *Sweeper) Sweep(ctx context.Context) {
	due, err := s.schedRepo.DueScheduled(ctx, s.now())
	if err != nil {
		log.Printf("sweep query failed: %v", err)
		observability.IncSweepDelivery("query_error")
		return
	}

	for _, sm := range due {
		msg, err := s.deliverer.DeliverScheduled(ctx, sm)
		switch {
		case errors.Is(err, ErrAlreadySent):
			observability.IncSweepDelivery("already_sent")
		case err != nil:
			log.Printf("sweep delivery failed scheduled=%d: %v", sm.ID, err)
			observability.IncSweepDelivery("error")
		default:
			log.Printf("scheduled message delivered scheduled=%d message=%d conversation=%d", sm.ID, msg.ID, sm.ConversationID)
			observability.IncSweepDelivery("delivered")
		}
	}
}
