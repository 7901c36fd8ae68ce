package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter caps in-flight requests with a weighted semaphore.
// Solve streams hold a slot for their whole lifetime, so the cap also
// bounds open upstream connections.
type ConcurrencyLimiter struct {
	sem           *semaphore.Weighted
	maxConcurrent int64
	timeout       time.Duration
	activeCount   int64
	totalReqs     int64
	rejectedReqs  int64

	// Adaptive wait timeout derived from recent latency.
	adaptive      bool
	latencyWindow []int64 // milliseconds
	windowIdx     int
	windowSize    int
	mu            sync.RWMutex
}

func NewConcurrencyLimiter(maxConcurrent int, timeout time.Duration, adaptive bool) *ConcurrencyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ConcurrencyLimiter{
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: int64(maxConcurrent),
		timeout:       timeout,
		adaptive:      adaptive,
		latencyWindow: make([]int64, 100),
		windowSize:    100,
	}
}

func (cl *ConcurrencyLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&cl.totalReqs, 1)

		waitTimeout := 60 * time.Second
		if cl.adaptive {
			if p95 := cl.p95(); p95 > 0 {
				// Wait up to 1.5x the recent P95, clamped to [5s, 60s].
				calcWait := time.Duration(float64(p95)*1.5) * time.Millisecond
				switch {
				case calcWait < 5*time.Second:
					waitTimeout = 5 * time.Second
				case calcWait > 60*time.Second:
					waitTimeout = 60 * time.Second
				default:
					waitTimeout = calcWait
				}
			}
		}
		if cl.timeout < waitTimeout {
			waitTimeout = cl.timeout
		}

		waitCtx, cancelWait := context.WithTimeout(r.Context(), waitTimeout)
		defer cancelWait()

		acquireStart := time.Now()
		if err := cl.sem.Acquire(waitCtx, 1); err != nil {
			atomic.AddInt64(&cl.rejectedReqs, 1)
			slog.Warn("Concurrency limit: wait timeout",
				"duration", time.Since(acquireStart),
				"total_rejected", atomic.LoadInt64(&cl.rejectedReqs),
				"wait_timeout", waitTimeout)
			http.Error(w, "server busy, please retry", http.StatusServiceUnavailable)
			return
		}

		atomic.AddInt64(&cl.activeCount, 1)
		reqStart := time.Now()

		defer func() {
			cl.sem.Release(1)
			atomic.AddInt64(&cl.activeCount, -1)
			if cl.adaptive {
				cl.recordLatency(time.Since(reqStart))
			}
		}()

		execCtx, cancelExec := context.WithTimeout(r.Context(), cl.timeout)
		defer cancelExec()

		next.ServeHTTP(w, r.WithContext(execCtx))
	}
}

// Active returns the number of requests currently holding a slot.
func (cl *ConcurrencyLimiter) Active() int64 {
	return atomic.LoadInt64(&cl.activeCount)
}

func (cl *ConcurrencyLimiter) recordLatency(d time.Duration) {
	ms := d.Milliseconds()
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.latencyWindow[cl.windowIdx] = ms
	cl.windowIdx = (cl.windowIdx + 1) % cl.windowSize
}

func (cl *ConcurrencyLimiter) p95() int64 {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	// Zero slots are unfilled and would drag the percentile down.
	valid := make([]int64, 0, len(cl.latencyWindow))
	for _, v := range cl.latencyWindow {
		if v > 0 {
			valid = append(valid, v)
		}
	}
	if len(valid) < 10 {
		return 0
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i] < valid[j] })

	idx := int(float64(len(valid)) * 0.95)
	if idx >= len(valid) {
		idx = len(valid) - 1
	}
	return valid[idx]
}
