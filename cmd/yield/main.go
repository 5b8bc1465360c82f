// Package main is the yield-forecasting CLI.
//
// Usage:
//
//	yield run [--week W] [--year Y] [--crop corn] [--state IA]
//	yield train --years 2015-2024 [--crop corn] [--week 30]
//	yield backtest --years 2015-2024 [--crop corn]
//	yield report [--crop corn] [--format markdown|text|json]
//	yield monitor [--year Y]
//	yield check
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/logging"
	"github.com/harvestline/agriforecast/internal/platform/database"
	"github.com/harvestline/agriforecast/internal/platform/migrations"
	"github.com/harvestline/agriforecast/internal/store/postgres"
	"github.com/harvestline/agriforecast/internal/yield/features"
	"github.com/harvestline/agriforecast/internal/yield/model"
	yieldorch "github.com/harvestline/agriforecast/internal/yield/orchestrator"
	"github.com/harvestline/agriforecast/internal/yield/validator"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	switch os.Args[1] {
	case "run":
		runErr = cmdRun(ctx, app, os.Args[2:])
	case "train":
		runErr = cmdTrain(ctx, app, os.Args[2:])
	case "backtest":
		runErr = cmdBacktest(ctx, app, os.Args[2:])
	case "report":
		runErr = cmdReport(ctx, app, os.Args[2:])
	case "monitor":
		runErr = cmdMonitor(ctx, app, os.Args[2:])
	case "check":
		runErr = cmdCheck(ctx, app)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: yield <run|train|backtest|report|monitor|check> [flags]")
}

type app struct {
	cfg        *config.Config
	log        *logging.Logger
	store      *postgres.Store
	reader     *postgres.YieldReader
	thresholds *config.Thresholds
	weights    *config.EnsembleWeights
	engine     *features.Engine
	runner     *yieldorch.Runner
	rng        *rand.Rand
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New("yield", cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(ctx, database.Config{
		DSN:            cfg.DatabaseURL,
		MaxConnections: cfg.DBMaxConnections,
		IdleTimeout:    cfg.DBIdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := migrations.Apply(db.DB); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	thresholds, err := config.LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		return nil, err
	}
	weights, err := config.LoadEnsembleWeights(cfg.EnsembleWeightsFile)
	if err != nil {
		return nil, err
	}

	store := postgres.New(db)
	reader := postgres.NewYieldReader(store)
	engine := features.New(reader, reader, thresholds, thresholds.GrowthStages)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	a := &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		reader:     reader,
		thresholds: thresholds,
		weights:    weights,
		engine:     engine,
		rng:        rng,
	}
	a.runner = yieldorch.New(reader, engine, reader, reader, weights, nil, log, rng)
	return a, nil
}

// parseYears parses a "2015-2024" range.
func parseYears(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("years must be START-END, got %q", s)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("years end %d before start %d", end, start)
	}
	return start, end, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	week := fs.Int("week", 0, "forecast week (default: current ISO week)")
	year := fs.Int("year", 0, "forecast year (default: current year)")
	crop := fs.String("crop", "", "comma-separated crops (default: all configured)")
	state := fs.String("state", "", "comma-separated states (default: discovered per crop)")
	_ = fs.Parse(args)

	res, err := a.runner.Run(ctx, *week, *year, splitList(*crop), splitList(*state))
	if err != nil {
		return err
	}

	fmt.Printf("run %s  year=%d week=%d  features=%d forecasts=%d stale=%d  %.1fs\n",
		res.RunID, res.Year, res.Week, res.FeatureRows, len(res.Forecasts), len(res.StaleTables), res.Duration.Seconds())
	for _, s := range res.CropSummaries {
		fmt.Printf("  %-10s states=%d avg_vs_trend=%+.1f%%\n", s.Crop, s.States, s.AvgVsTrendPct)
	}
	for _, alert := range res.Alerts {
		fmt.Printf("  ALERT %s\n", alert.Message)
	}
	for i, e := range res.Errors {
		if i >= 5 {
			fmt.Printf("  ... %d more errors in the JSON logs\n", len(res.Errors)-5)
			break
		}
		fmt.Printf("  error: %s\n", e)
	}
	if len(res.Forecasts) == 0 {
		return fmt.Errorf("no forecasts produced")
	}
	return nil
}

func cmdTrain(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	years := fs.String("years", "", "training year range START-END")
	crop := fs.String("crop", "corn", "crop to train")
	week := fs.Int("week", 30, "forecast week to train at")
	_ = fs.Parse(args)

	if *years == "" {
		return fmt.Errorf("train requires --years START-END")
	}
	startYear, endYear, err := parseYears(*years)
	if err != nil {
		return err
	}

	states, err := a.reader.StatesGrowingCrop(ctx, *crop)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return fmt.Errorf("no states recorded as growing %q", *crop)
	}

	trained := 0
	for _, state := range states {
		examples, err := a.reader.LoadExamples(ctx, *crop, state, *week)
		if err != nil {
			return err
		}
		inRange := examples[:0:0]
		for _, ex := range examples {
			if ex.Year >= startYear && ex.Year <= endYear {
				inRange = append(inRange, ex)
			}
		}
		ens, err := model.Train(*crop, state, inRange, a.weights, a.rng)
		if err != nil {
			fmt.Printf("  %-4s skipped: %v\n", state, err)
			continue
		}
		fmt.Printf("  %-4s years=%d cv_rmse=%.2f\n", state, len(inRange), ens.CVRMSE)
		trained++
	}
	if trained == 0 {
		return fmt.Errorf("no state had enough training data")
	}
	fmt.Printf("trained %s at week %d for %d states\n", *crop, *week, trained)
	return nil
}

func (a *app) backtestCrop(ctx context.Context, crop string, startYear, endYear int) ([]*validator.Report, error) {
	states, err := a.reader.StatesGrowingCrop(ctx, crop)
	if err != nil {
		return nil, err
	}

	var reports []*validator.Report
	for _, state := range states {
		byWeek, err := validator.LoadAllWeeks(ctx, a.reader, crop, state)
		if err != nil {
			return nil, err
		}
		for week, examples := range byWeek {
			inRange := examples[:0:0]
			for _, ex := range examples {
				if ex.Year >= startYear && ex.Year <= endYear {
					inRange = append(inRange, ex)
				}
			}
			byWeek[week] = inRange
		}
		report, err := validator.Backtest(crop, state, byWeek, a.weights, a.rng)
		if err != nil {
			a.log.WithError(err).WithField("state", state).Warn("backtest failed")
			continue
		}
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].State < reports[j].State })
	return reports, nil
}

func cmdBacktest(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	years := fs.String("years", "", "backtest year range START-END")
	crop := fs.String("crop", "corn", "crop to backtest")
	_ = fs.Parse(args)

	if *years == "" {
		return fmt.Errorf("backtest requires --years START-END")
	}
	startYear, endYear, err := parseYears(*years)
	if err != nil {
		return err
	}

	reports, err := a.backtestCrop(ctx, *crop, startYear, endYear)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return fmt.Errorf("no state produced a backtest report")
	}
	fmt.Print(validator.RenderText(*crop, reports))
	return nil
}

func cmdReport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	crop := fs.String("crop", "corn", "crop to report on")
	years := fs.String("years", "2015-2024", "backtest year range START-END")
	format := fs.String("format", "markdown", "markdown|text|json")
	_ = fs.Parse(args)

	startYear, endYear, err := parseYears(*years)
	if err != nil {
		return err
	}

	reports, err := a.backtestCrop(ctx, *crop, startYear, endYear)
	if err != nil {
		return err
	}

	stored, err := a.store.LargestRevisions(ctx, 10)
	if err != nil {
		return err
	}
	revisions := make([]validator.Revision, 0, len(stored))
	for _, r := range stored {
		if r.Commodity != *crop {
			continue
		}
		revisions = append(revisions, validator.Revision{
			State:         r.State,
			Year:          r.Year,
			Week:          r.ForecastWeek,
			WowChange:     r.WowChange,
			PrimaryDriver: r.PrimaryDriver,
		})
	}

	switch *format {
	case "markdown":
		fmt.Print(validator.RenderMarkdown(*crop, reports, revisions))
	case "text":
		fmt.Print(validator.RenderText(*crop, reports))
	case "json":
		b, err := json.MarshalIndent(map[string]interface{}{
			"crop": *crop, "reports": reports, "revisions": revisions,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}

func cmdMonitor(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	year := fs.Int("year", time.Now().UTC().Year(), "forecast year")
	_ = fs.Parse(args)

	forecasts, err := a.store.LatestForecasts(ctx, *year)
	if err != nil {
		return err
	}
	if len(forecasts) == 0 {
		fmt.Printf("no forecasts for %d yet\n", *year)
		return nil
	}
	for _, f := range forecasts {
		fmt.Printf("%-10s %-4s week=%2d yield=%.1f vs_trend=%+.1f%% conf=%.2f  %s\n",
			f.Commodity, f.State, f.ForecastWeek, f.YieldForecast, f.VsTrendPct, f.Confidence, f.PrimaryDriver)
	}
	return nil
}

func cmdCheck(ctx context.Context, a *app) error {
	freshness, err := a.store.Freshness(ctx)
	if err != nil {
		return err
	}
	tables := make([]string, 0, len(freshness))
	for t := range freshness {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	now := time.Now().UTC()
	stale := 0
	for _, t := range tables {
		ts := freshness[t]
		switch {
		case ts == nil:
			fmt.Printf("%-30s EMPTY\n", t)
			stale++
		case now.Sub(*ts) > 7*24*time.Hour:
			fmt.Printf("%-30s STALE (last write %s)\n", t, ts.Format(time.RFC3339))
			stale++
		default:
			fmt.Printf("%-30s ok (last write %s)\n", t, ts.Format(time.RFC3339))
		}
	}
	if stale > 0 {
		return fmt.Errorf("%d of %d tables are stale or empty", stale, len(tables))
	}
	return nil
}
