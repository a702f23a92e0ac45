package engine

import (
	"context"
	"sync"
	"time"

	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/persistence"
	"github.com/stagecraft/stagecraft/util"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// Sweeper polls for expired timer stages on a fixed period and feeds them
// to the executor through a worker lane. Worst-case timer latency is
// bounded by the sweep interval.
type Sweeper struct {
	executor  *Executor
	instances persistence.InstanceRepository
	tick      *util.TickWorker
	worker    *util.Worker
	wg        *sync.WaitGroup
}

func NewSweeper(executor *Executor, instances persistence.InstanceRepository, interval time.Duration, capacity int, wg *sync.WaitGroup) *Sweeper {
	s := &Sweeper{
		executor:  executor,
		instances: instances,
		wg:        wg,
	}
	s.worker = util.NewWorker("timer-executor", wg, s.handle, capacity)
	s.tick = util.NewTickWorker("timer-sweep", interval, make(chan struct{}), s.sweep, wg)
	return s
}

func (s *Sweeper) Start() {
	s.worker.Start()
	s.tick.Start()
}

func (s *Sweeper) Stop() {
	s.tick.Stop()
	s.worker.Stop()
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	for {
		refs, err := s.instances.ExpiredTimers(ctx, time.Now(), sweepBatchSize)
		if err != nil {
			logger.Error("timer sweep failed", zap.Error(err))
			return
		}
		if len(refs) == 0 {
			return
		}
		for _, ref := range refs {
			s.worker.Sender() <- ref
		}
		if len(refs) < sweepBatchSize {
			return
		}
	}
}

func (s *Sweeper) handle(job util.Job) error {
	ref, ok := job.(persistence.TimerRef)
	if !ok {
		return nil
	}
	return s.executor.HandleTimer(context.Background(), ref)
}
