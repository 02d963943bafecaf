package smoke

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/navihealth/navi-portal/internal/tools/common"
	"github.com/navihealth/navi-portal/internal/tools/loadgen"
	"github.com/navihealth/navi-portal/internal/tools/ui"
)

type options struct {
	baseURL        string
	publishableKey string
	origin         string
	trafficFor     time.Duration
	ci             bool
}

func NewCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Exercise a running portal end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "navi-portal smoke", func(ctx context.Context) ([]string, error) {
				return Check(ctx, opts.config())
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "smoke", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "portal base URL")
	cmd.Flags().StringVar(&opts.publishableKey, "publishable-key", "", "key used to create a test session; session checks are skipped when empty")
	cmd.Flags().StringVar(&opts.origin, "origin", "", "Origin header sent with session creation")
	cmd.Flags().DurationVar(&opts.trafficFor, "traffic", 3*time.Second, "duration of the background traffic burst, 0 disables it")
	cmd.Flags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}

func (o *options) config() Config {
	return Config{BaseURL: o.baseURL, PublishableKey: o.publishableKey, Origin: o.origin, TrafficFor: o.trafficFor}
}

func run(opts *options, title string, fn ui.Task) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

type Config struct {
	BaseURL        string
	PublishableKey string
	Origin         string
	TrafficFor     time.Duration
	Client         *http.Client
}

// Check walks readiness, the loader script, and optionally a full session
// round trip, then runs a short traffic burst.
func Check(ctx context.Context, cfg Config) ([]string, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	var details []string

	resp, body, err := get(ctx, cfg, "/health/ready")
	if err != nil {
		return details, err
	}
	if resp.StatusCode != http.StatusOK {
		return details, fmt.Errorf("readiness: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	details = append(details, "readiness: ok")

	resp, body, err = get(ctx, cfg, "/navi.js")
	if err != nil {
		return details, err
	}
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("window.Navi")) {
		return details, fmt.Errorf("loader script: unexpected %s", resp.Status)
	}
	details = append(details, "loader script: ok")

	if cfg.PublishableKey != "" {
		sessionDetails, err := checkSession(ctx, cfg)
		details = append(details, sessionDetails...)
		if err != nil {
			return details, err
		}
	} else {
		details = append(details, "session round trip: skipped (no publishable key)")
	}

	if cfg.TrafficFor > 0 {
		res, err := loadgen.Run(ctx, loadgen.Config{
			BaseURL:        cfg.BaseURL,
			Profile:        "mixed",
			Duration:       cfg.TrafficFor,
			RPS:            10,
			Concurrency:    2,
			Seed:           42,
			PublishableKey: cfg.PublishableKey,
			Origin:         cfg.Origin,
			Client:         cfg.Client,
		})
		if err != nil {
			return details, err
		}
		details = append(details, fmt.Sprintf("traffic total=%d failures=%d", res.TotalRequests, res.Failures))
		if res.Failures > 0 {
			return details, fmt.Errorf("traffic burst saw %d failures", res.Failures)
		}
	}
	return details, nil
}

func checkSession(ctx context.Context, cfg Config) ([]string, error) {
	payload, _ := json.Marshal(map[string]string{
		"publishableKey":       cfg.PublishableKey,
		"careflowDefinitionId": "smoke-check",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/create-careflow-session", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Origin != "" {
		req.Header.Set("Origin", cfg.Origin)
	}
	resp, err := cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var created struct {
		Success  bool   `json:"success"`
		EmbedURL string `json:"embedUrl"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("create session: decode: %w", err)
	}
	if !created.Success || created.EmbedURL == "" {
		return nil, fmt.Errorf("create session: %s: %s", resp.Status, created.Error)
	}
	details := []string{"create session: ok"}

	embed, err := url.Parse(created.EmbedURL)
	if err != nil {
		return details, fmt.Errorf("embed url: %w", err)
	}
	embedResp, _, err := get(ctx, cfg, embed.Path)
	if err != nil {
		return details, err
	}
	if embedResp.StatusCode != http.StatusOK || embedResp.Header.Get("Content-Security-Policy") != "frame-ancestors *" {
		return details, fmt.Errorf("embed page: unexpected %s", embedResp.Status)
	}
	details = append(details, "embed page: ok")

	sessionID := strings.TrimPrefix(embed.Path, "/embed/")
	event, err := firstStatusEvent(ctx, cfg, sessionID)
	if err != nil {
		return details, err
	}
	if event != "connection" {
		return details, fmt.Errorf("status stream: first event %q", event)
	}
	return append(details, "status stream: ok"), nil
}

func firstStatusEvent(ctx context.Context, cfg Config, sessionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/api/careflow-status?session_id="+url.QueryEscape(sessionID), nil)
	if err != nil {
		return "", err
	}
	resp, err := cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("status stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return "", fmt.Errorf("status stream: %w", err)
		}
		return ev.Type, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("status stream: %w", err)
	}
	return "", errors.New("status stream: closed without events")
}

func get(ctx context.Context, cfg Config, path string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := cfg.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, body, nil
}
