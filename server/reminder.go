package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Notifier dispatches a reminder or reset notification to a recipient.
// Actual delivery transport lives outside this server; the default
// implementation just records the event.
type Notifier interface {
	Notify(ctx context.Context, recipient, kind, payload string) error
}

type logNotifier struct {
	logger zerolog.Logger
}

func (n logNotifier) Notify(_ context.Context, recipient, kind, _ string) error {
	n.logger.Info().Str("recipient", recipient).Str("kind", kind).Msg("notification dispatched")
	return nil
}

// ReminderScheduler periodically scans for upcoming donations and dispatches
// one reminder each. It runs apart from the request-handling goroutines; a
// failed run logs and waits for the next tick.
type ReminderScheduler struct {
	db        *gorm.DB
	notifier  Notifier
	pacer     *rate.Limiter
	interval  time.Duration
	lookahead time.Duration
	logger    zerolog.Logger
}

func NewReminderScheduler(db *gorm.DB, notifier Notifier, interval, lookahead time.Duration, dispatchRPS float64, logger zerolog.Logger) *ReminderScheduler {
	if dispatchRPS <= 0 {
		dispatchRPS = 1
	}
	return &ReminderScheduler{
		db:        db,
		notifier:  notifier,
		pacer:     rate.NewLimiter(rate.Limit(dispatchRPS), 1),
		interval:  interval,
		lookahead: lookahead,
		logger:    logger.With().Str("component", "reminders").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (r *ReminderScheduler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.runOnce(ctx)
		}
	}
}

func (r *ReminderScheduler) runOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("reminder run panicked")
		}
	}()

	sent, err := r.dispatchDue(ctx, time.Now())
	if err != nil {
		r.logger.Error().Err(err).Msg("reminder run failed")
		return
	}
	if sent > 0 {
		r.logger.Info().Int("sent", sent).Msg("reminders dispatched")
	}
}

// dispatchDue sends a reminder for every donation scheduled inside the
// lookahead window that has not been reminded yet.
func (r *ReminderScheduler) dispatchDue(ctx context.Context, now time.Time) (int, error) {
	var due []Donation
	err := r.db.
		Where("status = ?", "scheduled").
		Where("reminder_sent_at IS NULL").
		Where("scheduled_at > ? AND scheduled_at <= ?", now, now.Add(r.lookahead)).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	var sent int
	for i := range due {
		donation := &due[i]

		var user User
		if err := r.db.First(&user, donation.UserID).Error; err != nil {
			r.logger.Warn().Err(err).Uint("donation_id", donation.ID).Msg("skipping reminder, no account")
			continue
		}

		if err := r.pacer.Wait(ctx); err != nil {
			return sent, err
		}
		if err := r.notifier.Notify(ctx, user.Email, "donation-reminder", donation.ScheduledAt.Format(time.RFC3339)); err != nil {
			r.logger.Warn().Err(err).Uint("donation_id", donation.ID).Msg("reminder dispatch failed")
			continue
		}

		ts := time.Now()
		if err := r.db.Model(donation).Update("reminder_sent_at", ts).Error; err != nil {
			r.logger.Warn().Err(err).Uint("donation_id", donation.ID).Msg("failed to mark reminder sent")
			continue
		}
		sent++
	}
	return sent, nil
}
