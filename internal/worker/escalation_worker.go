package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ticketdesk/ticket-service/internal/domain"
	"github.com/ticketdesk/ticket-service/internal/observability"
	apperrors "github.com/ticketdesk/ticket-service/pkg/util/errorutil"
)

const (
	defaultInterval  = 5 * time.Minute
	defaultL2After   = 3 * time.Hour
	defaultL3After   = 10 * time.Hour
	defaultBatchSize = 500
)

// ErrRunInProgress is returned by RunOnce when a scan is already running.
var ErrRunInProgress = errors.New("escalation run already in progress")

// Escalator is the slice of the ticket engine the scheduler drives.
type Escalator interface {
	EscalationCandidates(ctx context.Context, level domain.EscalationLevel, cutoff time.Time, unnotifiedOnly bool, limit int) ([]domain.Ticket, error)
	Escalate(ctx context.Context, ticketID string, tier domain.EscalationLevel, sendNotification bool) (*domain.Ticket, error)
}

type EscalationWorkerConfig struct {
	Interval  time.Duration
	L2After   time.Duration
	L3After   time.Duration
	BatchSize int
}

// RunReport summarizes one scan.
type RunReport struct {
	EscalatedL2       int
	EscalatedL3       int
	NotificationsSent int
	Raced             int
	Failed            int
}

// EscalationWorker periodically escalates open tickets nobody has picked:
// to L2 once they pass L2After, then to L3 with an email alert once they pass
// L3After. Ages are measured from ticket creation.
type EscalationWorker struct {
	Engine  Escalator
	Config  EscalationWorkerConfig
	Metrics *observability.Metrics
	Logger  *zap.Logger
	Now     func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEscalationWorker(engine Escalator, cfg EscalationWorkerConfig, metrics *observability.Metrics, logger *zap.Logger) *EscalationWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.L2After <= 0 {
		cfg.L2After = defaultL2After
	}
	if cfg.L3After <= 0 {
		cfg.L3After = defaultL3After
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationWorker{
		Engine:  engine,
		Config:  cfg,
		Metrics: metrics,
		Logger:  logger.Named("escalation"),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start launches the ticker loop. Each tick scans in its own goroutine; a
// tick arriving while a scan is still running is skipped.
func (w *EscalationWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.Config.Interval)
		defer ticker.Stop()
		w.Logger.Info("escalation scheduler started", zap.Duration("interval", w.Config.Interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
						w.Logger.Error("escalation run failed", zap.Error(err))
					}
				}()
			}
		}
	}()
}

// Stop cancels the loop and waits for any scan in flight.
func (w *EscalationWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.Logger.Info("escalation scheduler stopped")
}

// RunOnce performs a single scan. Per-ticket failures are logged and counted
// in the report; only candidate queries fail the run.
func (w *EscalationWorker) RunOnce(ctx context.Context) (RunReport, error) {
	var report RunReport
	if w == nil || w.Engine == nil {
		return report, fmt.Errorf("escalation worker is not configured")
	}
	if !w.running.CompareAndSwap(false, true) {
		w.Metrics.RecordSchedulerSkip()
		w.Logger.Warn("previous escalation run still in progress; skipping")
		return report, ErrRunInProgress
	}
	defer w.running.Store(false)

	started := time.Now()
	now := w.now()

	var errs []error
	if err := w.escalateTier(ctx, &report, domain.EscalationNone, domain.EscalationL2, now.Add(-w.Config.L2After)); err != nil {
		errs = append(errs, fmt.Errorf("L2 candidates: %w", err))
	}
	if err := w.escalateTier(ctx, &report, domain.EscalationL2, domain.EscalationL3, now.Add(-w.Config.L3After)); err != nil {
		errs = append(errs, fmt.Errorf("L3 candidates: %w", err))
	}

	w.Metrics.RecordSchedulerRun(time.Since(started))
	w.Logger.Info("escalation run complete",
		zap.Int("escalated_l2", report.EscalatedL2),
		zap.Int("escalated_l3", report.EscalatedL3),
		zap.Int("notifications_sent", report.NotificationsSent),
		zap.Int("raced", report.Raced),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", time.Since(started)))
	return report, errors.Join(errs...)
}

func (w *EscalationWorker) escalateTier(ctx context.Context, report *RunReport, from, to domain.EscalationLevel, cutoff time.Time) error {
	// Only L3 alerts by email, and only tickets not yet alerted.
	notify := to == domain.EscalationL3
	candidates, err := w.Engine.EscalationCandidates(ctx, from, cutoff, notify, w.Config.BatchSize)
	if err != nil {
		return err
	}

	for _, ticket := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		escalated, err := w.Engine.Escalate(ctx, ticket.ID, to, notify)
		if err != nil {
			// Picked or escalated since the query ran.
			if apperrors.HasCode(err, apperrors.CodeConflict) {
				report.Raced++
				continue
			}
			report.Failed++
			w.Logger.Error("escalate ticket",
				zap.Error(err),
				zap.String("ticket_number", ticket.TicketNumber),
				zap.String("tier", string(to)))
			continue
		}
		if to == domain.EscalationL3 {
			report.EscalatedL3++
			if escalated.EmailNotificationSent {
				report.NotificationsSent++
			}
		} else {
			report.EscalatedL2++
		}
	}
	return nil
}

func (w *EscalationWorker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}
