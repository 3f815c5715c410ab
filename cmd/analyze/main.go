// Command analyze runs one offline analysis over a transactions CSV and
// prints the JSON report.
//
//	analyze [flags] transactions.csv
//	analyze --suspicious-only - < transactions.csv
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rawblock/mule-forensics/internal/api"
	"github.com/rawblock/mule-forensics/internal/config"
	"github.com/rawblock/mule-forensics/internal/engine"
	"github.com/rawblock/mule-forensics/internal/logging"
	"github.com/rawblock/mule-forensics/pkg/models"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	flags := pflag.NewFlagSet("analyze", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	output := flags.StringP("output", "o", "", "write the report here instead of stdout")
	compact := flags.Bool("compact", false, "single-line JSON")
	suspiciousOnly := flags.Bool("suspicious-only", false, "omit accounts with a zero score")
	flags.String("log-level", "", "debug, info, warn or error (logging.level)")
	flags.Int("workers", 0, "detector concurrency (detection.workers)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("expected exactly one input file (use - for stdin)")
	}

	loader := config.NewLoader()
	for key, name := range map[string]string{
		"logging.level":     "log-level",
		"detection.workers": "workers",
	} {
		if f := flags.Lookup(name); f.Changed {
			if err := loader.BindFlag(key, f); err != nil {
				return err
			}
		}
	}
	if *configPath == "" {
		*configPath = os.Getenv("MULE_CONFIG")
	}
	cfg, err := loader.Load(*configPath)
	if err != nil {
		return err
	}
	// Logs go to stderr; stdout carries only the report
	cfg.Logging.Format = "console"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	txs, err := readInput(flags.Arg(0), stdin)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg.Detection, logger, engine.WithProgress(func(stage string, progress float64) {
		logger.Debug("Progress", zap.String("stage", stage), zap.Float64("progress", progress))
	}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := eng.Analyze(ctx, txs)
	if err != nil {
		return err
	}
	if *suspiciousOnly {
		report.Accounts = suspicious(report.Accounts)
	}

	out := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	if !*compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	logger.Info("Report written",
		zap.String("batch_id", report.BatchID),
		zap.Int("suspicious", report.Summary.SuspiciousAccountsFlagged),
		zap.Int("rings", report.Summary.FraudRingsDetected))
	return nil
}

func readInput(path string, stdin io.Reader) ([]models.Transaction, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	txs, rowErrs, err := api.DecodeCSV(r)
	if err != nil {
		return nil, err
	}
	if len(rowErrs) > 0 {
		errs := make([]error, 0, len(rowErrs))
		for _, re := range rowErrs {
			errs = append(errs, re)
		}
		return nil, fmt.Errorf("%d rows failed to parse: %w", len(rowErrs), errors.Join(errs...))
	}
	return txs, nil
}

func suspicious(accounts []models.AccountReport) []models.AccountReport {
	out := make([]models.AccountReport, 0, len(accounts))
	for _, a := range accounts {
		if a.SuspicionScore > 0 {
			out = append(out, a)
		}
	}
	return out
}
