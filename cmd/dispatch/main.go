// Command dispatch sends one batch described by a YAML file and prints the
// results and the final statistics as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/JAKOBGTAG/multi-email-sender/internal/bootstrap"
	"github.com/JAKOBGTAG/multi-email-sender/internal/config"
	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
	"github.com/JAKOBGTAG/multi-email-sender/internal/retry"
	"github.com/JAKOBGTAG/multi-email-sender/internal/service/dispatch"
	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
)

const (
	exitOK    = 0
	exitError = 1
	exitQuota = 2
)

type report struct {
	Results    []domain.SendResult  `json:"results"`
	Retry      retry.Stats          `json:"retry"`
	Statistics stats.Statistics     `json:"statistics"`
	Quota      dispatch.QuotaStatus `json:"quota"`
	Error      string               `json:"error,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration (defaults only when empty)")
	batchPath := fs.String("batch", "", "path to the batch YAML (content, options, recipients)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *batchPath == "" {
		fmt.Fprintln(fs.Output(), "-batch is required")
		fs.Usage()
		return exitError
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return exitError
	}
	b, err := loadBatch(*batchPath)
	if err != nil {
		logger.Error("failed to load batch", "error", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		return exitError
	}
	defer rt.Close()

	results, err := rt.Service.DispatchBatch(ctx, b.Recipients, b.Content, b.Options)

	rep := report{
		Results:    results,
		Retry:      retry.ComputeStats(results),
		Statistics: rt.Service.Statistics(),
		Quota:      rt.Service.QuotaStatus(),
	}
	if rep.Results == nil {
		rep.Results = []domain.SendResult{}
	}
	if err != nil {
		rep.Error = err.Error()
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(rep); encErr != nil {
		logger.Error("failed to write report", "error", encErr)
		return exitError
	}

	code := exitCode(err)
	switch code {
	case exitQuota:
		logger.Error("daily quota exhausted", "count", rep.Quota.Count, "limit", rep.Quota.Limit)
	case exitError:
		logger.Error("batch did not complete", "error", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, dispatch.ErrDailyQuotaExceeded):
		return exitQuota
	default:
		return exitError
	}
}
