package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/castlegate/arena/internal/domain"
	"github.com/castlegate/arena/internal/obslog"
	"github.com/castlegate/arena/internal/storage"
)

// Sweeper periodically claims timeouts on behalf of idle sessions. Clock
// expiry is otherwise only observed when a session is touched, so an
// abandoned session would sit expired-but-unterminated until its next
// action. Correctness never depends on the sweeper; it only bounds how long
// that window stays open.
type Sweeper struct {
	engine *Engine
	store  storage.Store
	cron   *cron.Cron
}

func NewSweeper(engine *Engine, store storage.Store) *Sweeper {
	return &Sweeper{engine: engine, store: store, cron: cron.New()}
}

// Start schedules the sweep at the given interval and runs the scheduler.
func (w *Sweeper) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := w.cron.AddFunc(spec, w.sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	w.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (w *Sweeper) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

func (w *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ids, err := w.store.ActiveSessionIDs(ctx)
	if err != nil {
		obslog.L().Warn("sweep_list_error", zap.Error(err))
		return
	}
	for _, id := range ids {
		if _, err := w.engine.ClaimTimeout(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNoTimeoutYet) || errors.Is(err, domain.ErrSessionEnded) {
				continue
			}
			obslog.L().Warn("sweep_claim_error", zap.String("session_id", id), zap.Error(err))
		}
	}
}
