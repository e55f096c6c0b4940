package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitlens/internal/jobs"
	"visitlens/internal/testsupport"
)

func TestSchedulerRunOnce(t *testing.T) {
	t.Run("runs the named job", func(t *testing.T) {
		var calls int32
		s := jobs.NewSchedulerWithJobs(testsupport.GetLogger(), jobs.Job{
			Name:     "count",
			Interval: time.Hour,
			Run: func(context.Context) error {
				atomic.AddInt32(&calls, 1)
				return nil
			},
		})

		require.NoError(t, s.RunOnce("count"))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Error(t, s.RunOnce("missing"))
	})

	t.Run("recovers panics and errors", func(t *testing.T) {
		s := jobs.NewSchedulerWithJobs(testsupport.GetLogger(),
			jobs.Job{Name: "boom", Interval: time.Hour, Run: func(context.Context) error { panic("boom") }},
			jobs.Job{Name: "fail", Interval: time.Hour, Run: func(context.Context) error { return errors.New("fail") }},
		)
		assert.NotPanics(t, func() {
			require.NoError(t, s.RunOnce("boom"))
			require.NoError(t, s.RunOnce("fail"))
		})
	})

	t.Run("same job never overlaps", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{}, 2)
		var calls int32
		s := jobs.NewSchedulerWithJobs(testsupport.GetLogger(), jobs.Job{
			Name:     "slow",
			Interval: time.Hour,
			Run: func(context.Context) error {
				atomic.AddInt32(&calls, 1)
				started <- struct{}{}
				<-release
				return nil
			},
		})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunOnce("slow")
		}()
		<-started

		require.NoError(t, s.RunOnce("slow"))
		close(release)
		wg.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestSchedulerStartStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := jobs.NewSchedulerWithJobs(testsupport.GetLogger(), jobs.Job{
		Name:     "tick",
		Interval: time.Hour,
		Run: func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}

	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestCleanupJob(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.csv")
	oldJSON := filepath.Join(dir, "old.json")
	fresh := filepath.Join(dir, "fresh.csv")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, oldJSON, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(oldJSON, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	deleted, err := jobs.NewCleanupJob(dir, 30, testsupport.GetLogger()).Run()
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	assert.NoFileExists(t, old)
	assert.NoFileExists(t, oldJSON)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)

	t.Run("missing dir is fine", func(t *testing.T) {
		n, err := jobs.NewCleanupJob(filepath.Join(dir, "nope"), 30, testsupport.GetLogger()).Run()
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
