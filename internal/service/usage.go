package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// UsageStore is the slice of the durable store the usage service writes to.
type UsageStore interface {
	UpsertUsage(ctx context.Context, gameID int64, bucket time.Time, apiCalls, transportMsgs, peakCCU int64) error
}

// UsageReport is a single fire-and-forget usage increment from a resolved
// session. All fields are optional; zero values contribute nothing.
type UsageReport struct {
	GameID        int64
	APICalls      int64
	TransportMsgs int64
	PeakCCU       int64
}

// UsageService accepts usage telemetry and folds it into hourly buckets in
// the background. Reports are never allowed to create backpressure on game
// servers: the handler acknowledges as soon as the report is queued, and a
// full queue drops the report rather than blocking.
type UsageService struct {
	store    UsageStore
	sessions *SessionService
	logger   *slog.Logger

	ch        chan UsageReport
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once

	upsertTimeout time.Duration
}

// NewUsageService starts the background worker. bufferSize bounds the
// number of in-flight reports; beyond it reports are dropped and counted.
func NewUsageService(st UsageStore, sessions *SessionService, bufferSize int, logger *slog.Logger) *UsageService {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	u := &UsageService{
		store:         st,
		sessions:      sessions,
		logger:        logger,
		ch:            make(chan UsageReport, bufferSize),
		done:          make(chan struct{}),
		upsertTimeout: 5 * time.Second,
	}
	u.wg.Add(1)
	go u.run()
	return u
}

func (u *UsageService) run() {
	defer u.wg.Done()
	for {
		select {
		case rep := <-u.ch:
			u.flush(rep)
		case <-u.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case rep := <-u.ch:
					u.flush(rep)
				default:
					return
				}
			}
		}
	}
}

func (u *UsageService) flush(rep UsageReport) {
	ctx, cancel := context.WithTimeout(context.Background(), u.upsertTimeout)
	defer cancel()
	bucket := model.UsageBucket(time.Now())
	if err := u.store.UpsertUsage(ctx, rep.GameID, bucket, rep.APICalls, rep.TransportMsgs, rep.PeakCCU); err != nil {
		// Invisible to the reporter; telemetry loss is acceptable,
		// blocking a game server is not.
		u.logger.Warn("usage upsert failed", "game_id", rep.GameID, "error", err)
	}
}

// Report resolves the token and queues the usage increment. The only gated
// failure is an unresolvable session: usage must never be attributed to a
// phantom tenant. Once the session resolves, the call always succeeds.
func (u *UsageService) Report(ctx context.Context, tok string, apiCalls, transportMsgs, peakCCU int64) error {
	sess, err := u.sessions.Resolve(ctx, tok)
	if err != nil {
		return err
	}

	rep := UsageReport{
		GameID:        sess.GameID,
		APICalls:      apiCalls,
		TransportMsgs: transportMsgs,
		PeakCCU:       peakCCU,
	}
	select {
	case u.ch <- rep:
	case <-u.done:
	default:
		u.dropped.Add(1)
	}
	return nil
}

// Dropped returns the number of reports discarded because the queue was
// full.
func (u *UsageService) Dropped() uint64 {
	return u.dropped.Load()
}

// Close stops the worker after draining queued reports.
func (u *UsageService) Close() {
	u.closeOnce.Do(func() {
		close(u.done)
		u.wg.Wait()
	})
}
