package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Dispatcher drains the outbox on a fixed interval.
type Dispatcher struct {
	outbox Outbox
	sender Sender
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

// NewDispatcher validates collaborators and returns a stopped Dispatcher.
func NewDispatcher(outbox Outbox, sender Sender, cfg Config, logger *zap.Logger, now func() time.Time) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if outbox == nil {
		return nil, fmt.Errorf("%w: outbox is required", ErrInvalidConfig)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{outbox: outbox, sender: sender, cfg: cfg, logger: logger, now: now}, nil
}

// RunOnce delivers up to one batch of due messages and returns how many were sent.
func (dispatcher *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := dispatcher.now().UTC()
	messages, err := dispatcher.outbox.ListDue(ctx, now.Unix(), dispatcher.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, message := range messages {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		sendErr := dispatcher.sender.Send(ctx, message)
		if sendErr == nil {
			if err := dispatcher.outbox.MarkSent(ctx, message.ID, dispatcher.now().UTC().Unix()); err != nil {
				dispatcher.logger.Error("mark notification sent", zap.String("notification_id", message.ID), zap.Error(err))
				continue
			}
			sent++
			continue
		}
		failure := dispatcher.failureFor(message, sendErr, now)
		fields := []zap.Field{
			zap.String("notification_id", message.ID),
			zap.String("booking_id", message.BookingID),
			zap.String("kind", string(message.Kind)),
			zap.Int("attempts", failure.Attempts),
			zap.Error(sendErr),
		}
		if failure.Final {
			dispatcher.logger.Error("notification abandoned", fields...)
		} else {
			dispatcher.logger.Warn("notification delivery failed", fields...)
		}
		if err := dispatcher.outbox.MarkFailed(ctx, message.ID, failure); err != nil {
			dispatcher.logger.Error("mark notification failed", zap.String("notification_id", message.ID), zap.Error(err))
		}
	}
	return sent, nil
}

// failureFor backs off linearly by attempt and gives up after MaxAttempts.
func (dispatcher *Dispatcher) failureFor(message Message, sendErr error, now time.Time) Failure {
	attempts := message.Attempts + 1
	return Failure{
		Attempts:           attempts,
		LastError:          sendErr.Error(),
		NextAttemptUnixUTC: now.Add(time.Duration(attempts) * dispatcher.cfg.RetryDelay).Unix(),
		Final:              attempts >= dispatcher.cfg.MaxAttempts,
	}
}

// Start schedules RunOnce every Interval until ctx ends or Shutdown is called.
func (dispatcher *Dispatcher) Start(ctx context.Context) error {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if dispatcher.scheduler != nil {
		return nil
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("notification scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(dispatcher.cfg.Interval),
		gocron.NewTask(func() {
			if _, runErr := dispatcher.RunOnce(ctx); runErr != nil && ctx.Err() == nil {
				dispatcher.logger.Error("notification dispatch", zap.Error(runErr))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("notification job: %w", err)
	}
	scheduler.Start()
	dispatcher.scheduler = scheduler
	return nil
}

// Shutdown stops the scheduler and waits for a running batch.
func (dispatcher *Dispatcher) Shutdown() error {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if dispatcher.scheduler == nil {
		return nil
	}
	err := dispatcher.scheduler.Shutdown()
	dispatcher.scheduler = nil
	return err
}
