package loadgen

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/navihealth/navi-portal/internal/tools/common"
	"github.com/navihealth/navi-portal/internal/tools/ui"
)

func NewCommand() *cobra.Command {
	cfg := Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate paced traffic against a running portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			task := func(ctx context.Context) ([]string, error) {
				res, err := Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := Summarize(res)
				if res.Failures > 0 {
					return details, fmt.Errorf("%d of %d requests failed", res.Failures, res.TotalRequests)
				}
				return details, nil
			}
			var (
				details []string
				err     error
			)
			if ci {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration+time.Minute)
				defer cancel()
				details, err = task(ctx)
				common.PrintCIResult(err == nil, "loadgen", details, err)
			} else {
				_, err = ui.Run("navi-portal loadgen", task)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "portal base URL")
	f.StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: mixed, health, embed, session or smart")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "run duration")
	f.IntVar(&cfg.RPS, "rps", 20, "requests per second across all workers")
	f.IntVar(&cfg.Concurrency, "concurrency", 4, "concurrent workers")
	f.Uint64Var(&cfg.Seed, "seed", 42, "target selection seed")
	f.StringVar(&cfg.PublishableKey, "publishable-key", "", "publishable key sent with session creation traffic")
	f.StringVar(&cfg.Origin, "origin", "", "Origin header sent with session creation traffic")
	f.BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}

// Summarize renders a result as stable, sorted detail lines.
func Summarize(res Result) []string {
	out := []string{fmt.Sprintf("total=%d failures=%d", res.TotalRequests, res.Failures)}
	classes := make([]string, 0, len(res.ByStatusClass))
	for class := range res.ByStatusClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		out = append(out, fmt.Sprintf("%s=%d", class, res.ByStatusClass[class]))
	}
	targets := make([]string, 0, len(res.ByTarget))
	for target := range res.ByTarget {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	for _, target := range targets {
		out = append(out, fmt.Sprintf("%s: %d", target, res.ByTarget[target]))
	}
	return out
}
