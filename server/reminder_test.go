package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/donorlink/donorgate/pkg/ratelimit"
)

func TestDispatchDueSendsPendingReminders(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies())
	user := env.createUser(t, "remindme@example.com", "password123", "USER")

	now := time.Now()
	sentAt := now.Add(-time.Hour)
	donations := []Donation{
		{UserID: user.ID, CenterID: 1, ScheduledAt: now.Add(2 * time.Hour), Status: "scheduled"},
		{UserID: user.ID, CenterID: 1, ScheduledAt: now.Add(48 * time.Hour), Status: "scheduled"},
		{UserID: user.ID, CenterID: 1, ScheduledAt: now.Add(3 * time.Hour), Status: "scheduled", ReminderSentAt: &sentAt},
		{UserID: user.ID, CenterID: 1, ScheduledAt: now.Add(-2 * time.Hour), Status: "scheduled"},
	}
	for i := range donations {
		require.NoError(t, env.srv.db.Create(&donations[i]).Error)
	}

	scheduler := NewReminderScheduler(env.srv.db, env.notifier, time.Minute, 24*time.Hour, 100, zerolog.Nop())

	sent, err := scheduler.dispatchDue(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	events := env.notifier.all()
	require.Len(t, events, 1)
	require.Equal(t, "remindme@example.com", events[0].Recipient)
	require.Equal(t, "donation-reminder", events[0].Kind)

	// A second run finds nothing left to send.
	sent, err = scheduler.dispatchDue(context.Background(), now)
	require.NoError(t, err)
	require.Zero(t, sent)
}

func TestRunOnceSurvivesFailures(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies())

	// Point the scheduler at a closed database so the query fails; the run
	// must log and return rather than panic through.
	sqlDB, err := env.srv.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	scheduler := NewReminderScheduler(env.srv.db, env.notifier, time.Minute, 24*time.Hour, 100, zerolog.Nop())
	require.NotPanics(t, func() {
		scheduler.runOnce(context.Background())
	})
}
