package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func Test_Scheduler(t *testing.T) {
	t.Run("Should reject an invalid cron expression", func(t *testing.T) {
		s, err := NewScheduler(&SchedulerConfig{}, zap.NewNop())
		require.Nil(t, err)
		defer func() { _ = s.Shutdown() }()

		err = s.AddCronJob("settle", "not a cron", func(ctx context.Context) error { return nil })
		assert.NotNil(t, err)
	})
	t.Run("Should reject a duplicate job name", func(t *testing.T) {
		s, err := NewScheduler(&SchedulerConfig{}, zap.NewNop())
		require.Nil(t, err)
		defer func() { _ = s.Shutdown() }()

		require.Nil(t, s.AddCronJob("settle", "0 2 * * *", func(ctx context.Context) error { return nil }))
		assert.NotNil(t, s.AddCronJob("settle", "0 3 * * *", func(ctx context.Context) error { return nil }))
	})
	t.Run("Should schedule the next run from the cron expression", func(t *testing.T) {
		s, err := NewScheduler(&SchedulerConfig{}, zap.NewNop())
		require.Nil(t, err)
		defer func() { _ = s.Shutdown() }()

		require.Nil(t, s.AddCronJob("settle", "0 2 * * *", func(ctx context.Context) error { return nil }))
		s.Start()

		require.Eventually(t, func() bool {
			next, err := s.NextRun("settle")
			return err == nil && !next.IsZero()
		}, time.Second, 10*time.Millisecond)

		next, err := s.NextRun("settle")
		require.Nil(t, err)
		next = next.UTC()
		assert.Equal(t, 2, next.Hour())
		assert.Equal(t, 0, next.Minute())
		assert.True(t, next.After(time.Now()))
	})
	t.Run("Should run a job on demand and survive its failure", func(t *testing.T) {
		s, err := NewScheduler(&SchedulerConfig{}, zap.NewNop())
		require.Nil(t, err)
		defer func() { _ = s.Shutdown() }()

		var runs atomic.Int32
		require.Nil(t, s.AddCronJob("settle", "0 2 * * *", func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		}))
		s.Start()

		require.Nil(t, s.RunNow("settle"))
		require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)

		require.Nil(t, s.RunNow("settle"))
		require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 10*time.Millisecond)
	})
	t.Run("Should fail to trigger an unknown job", func(t *testing.T) {
		s, err := NewScheduler(&SchedulerConfig{}, zap.NewNop())
		require.Nil(t, err)
		defer func() { _ = s.Shutdown() }()

		assert.NotNil(t, s.RunNow("missing"))
	})
	t.Run("Should wait for a running job on shutdown", func(t *testing.T) {
		s, err := NewScheduler(&SchedulerConfig{StopTimeout: 5 * time.Second}, zap.NewNop())
		require.Nil(t, err)

		started := make(chan struct{})
		var finished atomic.Bool
		require.Nil(t, s.AddCronJob("settle", "0 2 * * *", func(ctx context.Context) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		}))
		s.Start()
		require.Nil(t, s.RunNow("settle"))
		<-started

		require.Nil(t, s.Shutdown())
		assert.True(t, finished.Load())
	})
}
