package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"restbridge/logger"
)

// resourceSnapshot is one sample of the host running the adapter.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

type resourceSampler struct {
	samples  *ring[resourceSnapshot]
	interval time.Duration
	log      *logger.Log

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newResourceSampler(limit int, interval time.Duration, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &resourceSampler{samples: newRing[resourceSnapshot](limit), interval: interval, log: log}
}

func (s *resourceSampler) start(ctx context.Context) {
	s.once.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(ctx)
		}()
	})
}

func (s *resourceSampler) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// run samples until ctx is done. The cpu call itself blocks for interval.
func (s *resourceSampler) run(ctx context.Context) {
	log := s.log.WithComponent("resource_sampler")
	for ctx.Err() == nil {
		cpuPct, err := cpuPercentFn(ctx, s.interval)
		if err != nil {
			log.WithError(err).Debug("failed to sample cpu usage")
			if !sleep(ctx, s.interval) {
				return
			}
			continue
		}
		vm, err := memoryStatsFn(ctx)
		if err != nil {
			log.WithError(err).Debug("failed to sample memory usage")
			continue
		}
		snap := resourceSnapshot{
			Timestamp:   time.Now(),
			MemoryUsed:  vm.Used,
			MemoryTotal: vm.Total,
			MemoryPct:   vm.UsedPercent,
		}
		if len(cpuPct) > 0 {
			snap.CPUPercent = cpuPct[0]
		}
		s.samples.push(snap)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
