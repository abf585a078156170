package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/atharva20-coder/swoopin-engine/platform"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testJob(dedup, conv string) *Job {
	return &Job{
		ID:              uuid.NewString(),
		DedupKey:        dedup,
		UserID:          "u1",
		ConversationKey: conv,
		RawEvent:        []byte(`{}`),
		EligibleAt:      time.Now().Add(-time.Second),
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&GormJob{}))
	return map[string]Store{
		"mem":  NewMemstore(),
		"gorm": NewGormstore(db),
	}
}

func TestStoreDedup(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()

			j1 := testJob("evt-1", "conv-a")
			assert.NoError(s.Enqueue(ctx, j1))

			// same dedup key while enqueued
			assert.ErrorIs(s.Enqueue(ctx, testJob("evt-1", "conv-a")), ErrDuplicateJob)

			claimed, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			require.NotNil(t, claimed)
			assert.Equal(j1.ID, claimed.ID)

			// in-flight: still a duplicate
			assert.ErrorIs(s.Enqueue(ctx, testJob("evt-1", "conv-a")), ErrDuplicateJob)

			assert.NoError(s.SetState(ctx, j1.ID, StateProcessed, ""))
			// processed: still a duplicate, forever
			assert.ErrorIs(s.Enqueue(ctx, testJob("evt-1", "conv-a")), ErrDuplicateJob)

			state, err := s.GetState(ctx, j1.ID)
			assert.NoError(err)
			assert.Equal(StateProcessed, state)
		})
	}
}

func TestStoreFailedRearm(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()

			j1 := testJob("evt-2", "conv-a")
			assert.NoError(s.Enqueue(ctx, j1))
			claimed, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			require.NotNil(t, claimed)
			assert.NoError(s.SetState(ctx, j1.ID, StateFailed, "boom"))

			// a fresh delivery of a failed key re-arms rather than skipping
			assert.NoError(s.Enqueue(ctx, testJob("evt-2", "conv-a")))
			claimed, err = s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			require.NotNil(t, claimed)
			assert.Equal(0, claimed.Attempt)
		})
	}
}

func TestStoreEligibility(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()

			future := testJob("evt-delayed", "conv-a")
			future.EligibleAt = time.Now().Add(time.Hour)
			assert.NoError(s.Enqueue(ctx, future))

			claimed, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			assert.Nil(claimed)

			// becomes visible once its eligibility time passes
			claimed, err = s.ClaimNext(ctx, time.Now().Add(2*time.Hour))
			assert.NoError(err)
			require.NotNil(t, claimed)
			assert.Equal(future.ID, claimed.ID)
		})
	}
}

func TestStoreClaimOrderAndRequeue(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()

			j1 := testJob("evt-a", "conv-a")
			j2 := testJob("evt-b", "conv-a")
			assert.NoError(s.Enqueue(ctx, j1))
			assert.NoError(s.Enqueue(ctx, j2))

			first, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			require.NotNil(t, first)
			assert.Equal(j1.ID, first.ID)

			second, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			require.NotNil(t, second)
			assert.Equal(j2.ID, second.ID)

			// nothing left
			none, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			assert.Nil(none)

			assert.NoError(s.Requeue(ctx, first.ID, time.Now().Add(-time.Second)))
			again, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			require.NotNil(t, again)
			assert.Equal(j1.ID, again.ID)
			assert.Equal(1, again.Attempt)
		})
	}
}

func TestDispatcherConversationOrdering(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewMemstore()

	var lk sync.Mutex
	processed := map[string][]string{}
	done := make(chan struct{}, 32)

	do := func(ctx context.Context, job *Job) error {
		// jitter to give out-of-order execution every chance to happen
		time.Sleep(time.Millisecond)
		lk.Lock()
		processed[job.ConversationKey] = append(processed[job.ConversationKey], job.DedupKey)
		lk.Unlock()
		done <- struct{}{}
		return nil
	}

	const perConv = 5
	convs := []string{"conv-a", "conv-b", "conv-c"}
	for i := 0; i < perConv; i++ {
		for _, conv := range convs {
			require.NoError(t, s.Enqueue(ctx, testJob(fmt.Sprintf("%s/evt-%d", conv, i), conv)))
		}
	}

	d := NewDispatcher(s, 4, 5*time.Millisecond, do, nil)
	go d.Run(ctx)

	for i := 0; i < perConv*len(convs); i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	cancel()

	lk.Lock()
	defer lk.Unlock()
	for _, conv := range convs {
		require.Len(t, processed[conv], perConv)
		for i, key := range processed[conv] {
			assert.Equal(fmt.Sprintf("%s/evt-%d", conv, i), key)
		}
	}
}

func TestDispatcherRetryAndFail(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewMemstore()

	var attempts sync.Map
	done := make(chan string, 8)
	do := func(ctx context.Context, job *Job) error {
		n, _ := attempts.LoadOrStore(job.DedupKey, new(int))
		*(n.(*int))++
		done <- job.DedupKey
		switch job.DedupKey {
		case "transient-once":
			return &platform.RetryableError{Op: "send_dm", Err: errors.New("502")}
		case "permanent":
			return &platform.PermanentError{Op: "send_dm", Err: errors.New("401")}
		}
		return nil
	}

	// shrink backoff by pre-aging the requeue check: requeue delay for
	// attempt 1 is 30s, so verify state transitions instead of waiting
	require.NoError(t, s.Enqueue(ctx, testJob("transient-once", "c1")))
	require.NoError(t, s.Enqueue(ctx, testJob("permanent", "c2")))

	d := NewDispatcher(s, 2, 5*time.Millisecond, do, nil)
	go d.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
	// allow state writes to land
	time.Sleep(50 * time.Millisecond)

	// permanent failure is terminal on the first attempt
	permJobState := stateByDedup(t, s, "permanent")
	assert.Equal(StateFailed, permJobState)

	// transient failure was requeued with a future eligibility time
	transState := stateByDedup(t, s, "transient-once")
	assert.Equal(StateEnqueued, transState)
}

func stateByDedup(t *testing.T, s *Memstore, dedup string) string {
	t.Helper()
	s.lk.Lock()
	defer s.lk.Unlock()
	j, ok := s.byKey[dedup]
	require.True(t, ok)
	return j.state
}

// A worker that dies after claiming leaves the row in processing; recovery
// re-arms it so the event is not lost.
func TestStoreRecoverStale(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()

			j1 := testJob("evt-stale", "conv-a")
			require.NoError(t, s.Enqueue(ctx, j1))
			claimed, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			require.NotNil(t, claimed)

			// the claim is fresh: nothing to recover
			n, err := s.RecoverStale(ctx, time.Now().Add(-staleJobAge))
			assert.NoError(err)
			assert.Zero(n)
			next, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			assert.Nil(next)

			// past the grace period the claim counts as dead
			n, err = s.RecoverStale(ctx, time.Now().Add(time.Minute))
			assert.NoError(err)
			assert.Equal(1, n)

			state, err := s.GetState(ctx, j1.ID)
			assert.NoError(err)
			assert.Equal(StateEnqueued, state)

			reclaimed, err := s.ClaimNext(ctx, time.Now())
			assert.NoError(err)
			require.NotNil(t, reclaimed)
			assert.Equal(j1.ID, reclaimed.ID)
		})
	}
}

// A job claimed during shutdown, before any worker accepts it, goes back to
// enqueued instead of sticking in processing.
func TestDispatcherShutdownReturnsClaimedJob(t *testing.T) {
	assert := assert.New(t)
	s := NewMemstore()

	j1 := testJob("evt-orphan", "conv-a")
	require.NoError(t, s.Enqueue(context.Background(), j1))

	// zero workers, so the feeder never accepts the task
	d := NewDispatcher(s, 0, time.Second, nil, nil)
	claimed, err := s.ClaimNext(context.Background(), time.Now())
	assert.NoError(err)
	require.NotNil(t, claimed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(d.addWork(ctx, claimed), context.Canceled)

	state, err := s.GetState(context.Background(), j1.ID)
	assert.NoError(err)
	assert.Equal(StateEnqueued, state)
	assert.Empty(d.active)
}
