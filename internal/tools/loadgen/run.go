package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL        string
	Profile        string
	Duration       time.Duration
	RPS            int
	Concurrency    int
	Seed           uint64
	PublishableKey string
	Origin         string
	Client         *http.Client
}

type Result struct {
	TotalRequests int
	Failures      int
	ByStatusClass map[string]int
	ByTarget      map[string]int
}

type target struct {
	name   string
	method string
	path   string
	body   func(cfg Config, rnd *rand.Rand) string
}

var (
	healthTarget = target{name: "health", method: http.MethodGet, path: "/health/live"}
	loaderTarget = target{name: "loader", method: http.MethodGet, path: "/navi.js"}
	embedTarget  = target{name: "embed", method: http.MethodGet, path: "/embed/loadgen-missing"}
	smartTarget  = target{name: "smart_error", method: http.MethodGet, path: "/smart/error?code=loadgen"}
	createTarget = target{
		name:   "create_session",
		method: http.MethodPost,
		path:   "/api/create-careflow-session",
		body: func(cfg Config, rnd *rand.Rand) string {
			return fmt.Sprintf(`{"publishableKey":%q,"careflowDefinitionId":"loadgen-%d"}`, cfg.PublishableKey, rnd.IntN(16))
		},
	}
)

var profiles = map[string][]target{
	"health":  {healthTarget},
	"embed":   {loaderTarget, embedTarget},
	"session": {createTarget},
	"smart":   {smartTarget},
	"mixed":   {healthTarget, loaderTarget, embedTarget, createTarget, smartTarget},
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Run drives paced traffic against a running portal. Transport errors and 5xx
// responses count as failures; 4xx is expected for probes without credentials.
func Run(ctx context.Context, cfg Config) (Result, error) {
	profile := normalizeProfile(cfg.Profile)
	targets, ok := profiles[profile]
	if !ok {
		return Result{}, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if cfg.BaseURL == "" {
		return Result{}, errors.New("base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), 1)

	var mu sync.Mutex
	res := Result{ByStatusClass: map[string]int{}, ByTarget: map[string]int{}}
	record := func(t target, class string) {
		mu.Lock()
		defer mu.Unlock()
		res.TotalRequests++
		res.ByTarget[t.name]++
		res.ByStatusClass[class]++
		if class == "5xx" || class == "error" {
			res.Failures++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		rnd := rand.New(rand.NewPCG(cfg.Seed, uint64(w)))
		g.Go(func() error {
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				t := targets[rnd.IntN(len(targets))]
				status, err := fire(gctx, cfg, t, rnd)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					record(t, "error")
					continue
				}
				record(t, classifyStatusClass(status))
			}
		})
	}
	_ = g.Wait()
	return res, nil
}

func fire(ctx context.Context, cfg Config, t target, rnd *rand.Rand) (int, error) {
	var body io.Reader
	if t.body != nil {
		body = strings.NewReader(t.body(cfg, rnd))
	}
	req, err := http.NewRequestWithContext(ctx, t.method, cfg.BaseURL+t.path, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.Origin != "" {
		req.Header.Set("Origin", cfg.Origin)
	}
	resp, err := cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
