package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atharva20-coder/swoopin-engine/platform"
)

type ProcessFunc func(ctx context.Context, job *Job) error

// Dispatcher runs a fixed worker pool over the queue store. Jobs sharing a
// conversation key are processed in claim order on one worker at a time;
// jobs for different conversations run fully in parallel.
type Dispatcher struct {
	store          Store
	do             ProcessFunc
	maxConcurrency int
	pollInterval   time.Duration

	feeder chan *consumerTask
	out    chan struct{}

	lk     sync.Mutex
	active map[string][]*consumerTask

	log *slog.Logger
}

type consumerTask struct {
	key     string
	job     *Job
	control string
}

func NewDispatcher(store Store, maxC int, pollInterval time.Duration, do ProcessFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:          store,
		do:             do,
		maxConcurrency: maxC,
		pollInterval:   pollInterval,
		feeder:         make(chan *consumerTask),
		out:            make(chan struct{}),
		active:         make(map[string][]*consumerTask),
		log:            logger.With("system", "dispatcher"),
	}

	for i := 0; i < maxC; i++ {
		go d.worker()
	}
	workersActive.Set(float64(maxC))

	return d
}

// a processing row untouched this long belongs to a dead worker
const staleJobAge = 5 * time.Minute

const staleRecoveryInterval = time.Minute

// Run polls the store and feeds claimed jobs to the pool until the context
// is canceled, then drains the workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.shutdown()

	// jobs claimed by a worker that crashed before recording an outcome
	// would otherwise sit in processing forever, and the webhook was
	// already ACKed
	d.recoverStale(ctx)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	recovery := time.NewTicker(staleRecoveryInterval)
	defer recovery.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-recovery.C:
			d.recoverStale(ctx)
			continue
		case <-ticker.C:
		}

		// drain everything currently eligible before sleeping again
		for {
			job, err := d.store.ClaimNext(ctx, time.Now())
			if err != nil {
				d.log.Error("claiming next job", "err", err)
				break
			}
			if job == nil {
				break
			}
			if err := d.addWork(ctx, job); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) addWork(ctx context.Context, job *Job) error {
	jobsAdded.Inc()
	t := &consumerTask{key: job.ConversationKey, job: job}
	d.lk.Lock()

	a, ok := d.active[t.key]
	if ok {
		// conversation already has an in-flight job: queue behind it so
		// replies stay in order
		d.active[t.key] = append(a, t)
		d.lk.Unlock()
		return nil
	}

	d.active[t.key] = []*consumerTask{}
	d.lk.Unlock()

	select {
	case d.feeder <- t:
		return nil
	case <-ctx.Done():
		// shutting down with the job already claimed: put it back so the
		// next run picks it up instead of leaving it stuck in processing
		d.lk.Lock()
		delete(d.active, t.key)
		d.lk.Unlock()
		if serr := d.store.SetState(context.Background(), job.ID, StateEnqueued, ""); serr != nil {
			d.log.Error("returning claimed job to queue", "job", job.ID, "err", serr)
		}
		return ctx.Err()
	}
}

func (d *Dispatcher) recoverStale(ctx context.Context) {
	n, err := d.store.RecoverStale(ctx, time.Now().Add(-staleJobAge))
	if err != nil {
		d.log.Error("recovering stale jobs", "err", err)
		return
	}
	if n > 0 {
		d.log.Warn("re-armed stale in-flight jobs", "count", n)
		jobsRecovered.Add(float64(n))
	}
}

func (d *Dispatcher) worker() {
	for work := range d.feeder {
		for work != nil {
			if work.control == "stop" {
				d.out <- struct{}{}
				return
			}

			jobsActive.Inc()
			d.handle(context.Background(), work.job)
			jobsProcessed.Inc()

			d.lk.Lock()
			rem, ok := d.active[work.key]
			if !ok {
				d.log.Error("active entry missing for in-flight conversation", "key", work.key)
			}

			if len(rem) == 0 {
				delete(d.active, work.key)
				work = nil
			} else {
				work = rem[0]
				d.active[work.key] = rem[1:]
			}
			d.lk.Unlock()
		}
	}
}

// handle runs one job and records its outcome: processed, requeued with
// backoff, or failed.
func (d *Dispatcher) handle(ctx context.Context, job *Job) {
	err := d.do(ctx, job)
	if err == nil {
		if serr := d.store.SetState(ctx, job.ID, StateProcessed, ""); serr != nil {
			d.log.Error("marking job processed", "job", job.ID, "err", serr)
		}
		return
	}

	if platform.IsRetryable(err) && job.Attempt+1 < MaxAttempts {
		// requeueing releases the conversation key for the backoff window,
		// so a later event in the conversation can overtake the retried
		// one. Holding the key would stall every reply in the conversation
		// behind one flaky send for up to two minutes; out-of-order is the
		// lesser harm, and the idempotency token still prevents a double
		// send when the retry lands.
		delay := retryBackoff(job.Attempt + 1)
		d.log.Warn("transient job failure, requeueing", "job", job.ID, "attempt", job.Attempt, "delay", delay, "err", err)
		jobsRetried.Inc()
		if serr := d.store.Requeue(ctx, job.ID, time.Now().Add(delay)); serr != nil {
			d.log.Error("requeueing job", "job", job.ID, "err", serr)
		}
		return
	}

	d.log.Error("job failed terminally", "job", job.ID, "attempt", job.Attempt, "err", err)
	jobsFailed.Inc()
	if serr := d.store.SetState(ctx, job.ID, StateFailed, err.Error()); serr != nil {
		d.log.Error("marking job failed", "job", job.ID, "err", serr)
	}
}

func (d *Dispatcher) shutdown() {
	d.log.Info("shutting down dispatcher")

	for i := 0; i < d.maxConcurrency; i++ {
		d.feeder <- &consumerTask{control: "stop"}
	}
	close(d.feeder)
	for i := 0; i < d.maxConcurrency; i++ {
		<-d.out
	}

	d.log.Info("dispatcher shutdown complete")
}
