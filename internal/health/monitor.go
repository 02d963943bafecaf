package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StartMonitor polls the runner in the background and logs readiness
// transitions. The returned stop function blocks until the loop exits.
func StartMonitor(ctx context.Context, runner *ProbeRunner, interval time.Duration, logger *slog.Logger) (stop func()) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := true
		for {
			ready, results := runner.Ready(ctx)
			if ready != last {
				if ready {
					logger.InfoContext(ctx, "dependencies ready")
				} else {
					logger.WarnContext(ctx, "dependencies unready", "checks", failing(results))
				}
				last = ready
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func failing(results []CheckResult) []string {
	var out []string
	for _, r := range results {
		if !r.Healthy {
			out = append(out, r.Name+": "+r.Error)
		}
	}
	return out
}
