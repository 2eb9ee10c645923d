package tracking

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetsight/backend/internal/core"
	"github.com/fleetsight/backend/internal/metrics"
)

const overflowIdleTimeout = 30 * time.Second

// DispatcherConfig sizes the async worker pool.
type DispatcherConfig struct {
	CoreWorkers  int // always-on workers
	MaxWorkers   int // core + overflow ceiling
	QueueSize    int
	MaxBatchSize int
}

// BatchResult summarizes a batch submission.
type BatchResult struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Dispatcher is the ingress fan-in. Sync processes inline, Async goes
// through a bounded queue with overflow workers and caller-runs
// backpressure (submissions are never dropped), Batch replays a sorted
// slice of pings sequentially.
type Dispatcher struct {
	coord   *Coordinator
	cfg     DispatcherConfig
	queue   chan core.Ping
	workers atomic.Int32
	metrics *metrics.Metrics
	logger  *log.Logger

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(coord *Coordinator, cfg DispatcherConfig, m *metrics.Metrics) *Dispatcher {
	if cfg.CoreWorkers <= 0 {
		cfg.CoreWorkers = 10
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 500
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}

	d := &Dispatcher{
		coord:   coord,
		cfg:     cfg,
		queue:   make(chan core.Ping, cfg.QueueSize),
		metrics: m,
		logger:  log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		stopped: make(chan struct{}),
	}
	for i := 0; i < cfg.CoreWorkers; i++ {
		d.workers.Add(1)
		d.wg.Add(1)
		go d.coreWorker()
	}
	return d
}

// Sync processes the ping on the calling goroutine and surfaces the error.
func (d *Dispatcher) Sync(ctx context.Context, ping core.Ping) error {
	err := d.coord.Process(ctx, ping)
	d.metrics.RecordPing("sync", err)
	return err
}

// Async enqueues the ping. When the queue is full it first tries to grow
// the pool toward MaxWorkers; if the pool is saturated too, the calling
// goroutine processes the ping itself. Nothing is ever dropped.
func (d *Dispatcher) Async(ping core.Ping) {
	select {
	case d.queue <- ping:
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
		return
	default:
	}

	if d.tryGrow() {
		select {
		case d.queue <- ping:
			d.metrics.QueueDepth.Set(float64(len(d.queue)))
			return
		default:
		}
	}

	d.metrics.CallerRunsTotal.Inc()
	d.runOne(ping)
}

// Batch sorts the pings by device timestamp (ties keep input order) and
// processes them sequentially. One bad ping never aborts the rest.
func (d *Dispatcher) Batch(ctx context.Context, pings []core.Ping) (BatchResult, error) {
	if len(pings) == 0 {
		return BatchResult{}, core.ErrEmptyBatch
	}
	if len(pings) > d.cfg.MaxBatchSize {
		return BatchResult{}, fmt.Errorf("%w: %d pings, limit %d", core.ErrBatchTooLarge, len(pings), d.cfg.MaxBatchSize)
	}

	ordered := make([]core.Ping, len(pings))
	copy(ordered, pings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	result := BatchResult{Total: len(ordered)}
	for _, ping := range ordered {
		err := d.coord.Process(ctx, ping)
		d.metrics.RecordPing("batch", err)
		if err != nil {
			result.Failed++
			d.logger.Printf("⚠️  Batch ping failed for trip %d: %v", ping.TripID, err)
			continue
		}
		result.Processed++
	}
	return result, nil
}

// Shutdown stops accepting queue work and waits for in-flight pings.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() {
		close(d.stopped)
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) coreWorker() {
	defer d.wg.Done()
	for ping := range d.queue {
		d.runOne(ping)
	}
}

// tryGrow starts one overflow worker if the pool is below MaxWorkers. The
// worker exits after sitting idle.
func (d *Dispatcher) tryGrow() bool {
	for {
		n := d.workers.Load()
		if int(n) >= d.cfg.MaxWorkers {
			return false
		}
		if d.workers.CompareAndSwap(n, n+1) {
			d.wg.Add(1)
			go d.overflowWorker()
			return true
		}
	}
}

func (d *Dispatcher) overflowWorker() {
	defer d.wg.Done()
	defer d.workers.Add(-1)

	idle := time.NewTimer(overflowIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case ping, ok := <-d.queue:
			if !ok {
				return
			}
			d.runOne(ping)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(overflowIdleTimeout)
		case <-idle.C:
			return
		case <-d.stopped:
			return
		}
	}
}

func (d *Dispatcher) runOne(ping core.Ping) {
	err := d.coord.Process(context.Background(), ping)
	d.metrics.RecordPing("async", err)
	d.metrics.QueueDepth.Set(float64(len(d.queue)))
	if err != nil {
		d.logger.Printf("⚠️  Async ping failed for trip %d: %v", ping.TripID, err)
	}
}
