package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bpmnkit/internal/logging"
)

func TestValidate(t *testing.T) {
	for _, expr := range []string{"@daily", "@every 6h", "0 3 * * *", "*/15 * * * 1-5"} {
		assert.NoError(t, Validate(expr), expr)
	}
	for _, expr := range []string{"", "daily", "0 3 * *", "61 * * * *", "0 0 3 * * *"} {
		assert.Error(t, Validate(expr), expr)
	}
}

func TestAdd_RejectsBadSchedule(t *testing.T) {
	s := New(logging.Discard())
	err := s.Add("vacuum", "every night", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule vacuum")
	assert.Empty(t, s.cron.Entries())
}

func TestRun_PassesSchedulerContext(t *testing.T) {
	s := New(logging.Discard())

	var seen []context.Context
	require.NoError(t, s.Add("vacuum", "@daily", func(ctx context.Context) error {
		seen = append(seen, ctx)
		return nil
	}))
	require.NoError(t, s.Add("failing", "@hourly", func(context.Context) error {
		return errors.New("disk full")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	entries := s.cron.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.Next.After(time.Now()), "next run is scheduled")
		e.WrappedJob.Run()
	}

	require.Len(t, seen, 1)
	require.NoError(t, seen[0].Err())

	s.Stop()
	assert.ErrorIs(t, seen[0].Err(), context.Canceled, "stop cancels the task context")
}

func TestStartStop_Idempotent(t *testing.T) {
	s := New(logging.Discard())
	s.Stop()

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
