package quality

import (
	"runtime"
	"sync"
	"time"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/timeutil"
)

// DefaultMemoryBudgetBytes is the advisory process memory budget when
// none is configured.
const DefaultMemoryBudgetBytes = 2 << 30 // 2 GiB

// memoryLimitFraction of the budget at which the monitor starts
// reporting the limit as exceeded.
const memoryLimitFraction = 0.9

// ResourceMonitor samples process memory on an interval and exposes an
// advisory "limit exceeded" flag the pipeline uses to shrink batch
// sizes. It never hard-stops anything.
type ResourceMonitor struct {
	budgetBytes uint64
	interval    time.Duration
	clock       timeutil.Clock
	readMem     func() uint64

	mu        sync.RWMutex
	lastHeap  uint64
	exceeded  bool
	stop      chan struct{}
	stopOnce  sync.Once
	running   bool
	runningMu sync.Mutex
}

// NewResourceMonitor creates a monitor against a byte budget. Pass
// budgetBytes <= 0 for the default budget and interval <= 0 for a 5s
// sampling period.
func NewResourceMonitor(budgetBytes int64, interval time.Duration, clock timeutil.Clock) *ResourceMonitor {
	if budgetBytes <= 0 {
		budgetBytes = DefaultMemoryBudgetBytes
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ResourceMonitor{
		budgetBytes: uint64(budgetBytes),
		interval:    interval,
		clock:       clock,
		readMem:     readHeapBytes,
		stop:        make(chan struct{}),
	}
}

func readHeapBytes() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Start launches the sampling loop. Safe to call once; Stop ends it.
func (rm *ResourceMonitor) Start() {
	rm.runningMu.Lock()
	if rm.running {
		rm.runningMu.Unlock()
		return
	}
	rm.running = true
	rm.runningMu.Unlock()

	go func() {
		ticker := rm.clock.NewTicker(rm.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				rm.Sample()
			case <-rm.stop:
				return
			}
		}
	}()
}

// Stop ends the sampling loop.
func (rm *ResourceMonitor) Stop() {
	rm.stopOnce.Do(func() { close(rm.stop) })
}

// Sample takes one memory reading immediately and updates the exceeded
// flag.
func (rm *ResourceMonitor) Sample() {
	heap := rm.readMem()
	limit := uint64(float64(rm.budgetBytes) * memoryLimitFraction)

	rm.mu.Lock()
	wasExceeded := rm.exceeded
	rm.lastHeap = heap
	rm.exceeded = heap > limit
	nowExceeded := rm.exceeded
	rm.mu.Unlock()

	if nowExceeded && !wasExceeded {
		Opsf("memory budget pressure: heap %d bytes above %d (90%% of %d)", heap, limit, rm.budgetBytes)
	}
}

// LimitExceeded reports whether the last sample was above 90% of the
// budget.
func (rm *ResourceMonitor) LimitExceeded() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.exceeded
}

// HeapBytes returns the most recent heap sample.
func (rm *ResourceMonitor) HeapBytes() uint64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.lastHeap
}
