// Package main is the collector-framework CLI.
//
// Usage:
//
//	collectors fetch --country BRA --year 2024 --month 8 [--flows export,import] [--output path]
//	collectors monthly --year 2024 --month 8 [--countries BRA,ARG] [--sequential]
//	collectors backfill --start-year 2023 --start-month 1 [--end-year 2024] [--end-month 6]
//	collectors schedule [--list | --start | --trigger <source>]
//	collectors status
//	collectors validate --log <audit log> [--mode sample|full] [--sample-pct 10]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/collector/plugins/anec"
	"github.com/harvestline/agriforecast/internal/collector/plugins/argentina"
	"github.com/harvestline/agriforecast/internal/collector/plugins/brazil"
	"github.com/harvestline/agriforecast/internal/collector/plugins/census"
	"github.com/harvestline/agriforecast/internal/collector/plugins/colombia"
	"github.com/harvestline/agriforecast/internal/collector/plugins/eia"
	"github.com/harvestline/agriforecast/internal/collector/plugins/epaecho"
	"github.com/harvestline/agriforecast/internal/collector/plugins/faspsd"
	"github.com/harvestline/agriforecast/internal/collector/plugins/futures"
	"github.com/harvestline/agriforecast/internal/collector/plugins/mpob"
	"github.com/harvestline/agriforecast/internal/collector/plugins/paraguay"
	"github.com/harvestline/agriforecast/internal/collector/plugins/uruguay"
	"github.com/harvestline/agriforecast/internal/collector/plugins/usdaams"
	"github.com/harvestline/agriforecast/internal/collector/plugins/usdanass"
	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/httpcore"
	"github.com/harvestline/agriforecast/internal/logging"
	"github.com/harvestline/agriforecast/internal/orchestrator"
	"github.com/harvestline/agriforecast/internal/platform/database"
	"github.com/harvestline/agriforecast/internal/platform/migrations"
	"github.com/harvestline/agriforecast/internal/scheduler"
	"github.com/harvestline/agriforecast/internal/store/postgres"
	"github.com/harvestline/agriforecast/internal/trade"
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
	defer app.Close()

	var runErr error
	switch os.Args[1] {
	case "fetch":
		runErr = cmdFetch(ctx, app, os.Args[2:])
	case "monthly":
		runErr = cmdMonthly(ctx, app, os.Args[2:])
	case "backfill":
		runErr = cmdBackfill(ctx, app, os.Args[2:])
	case "schedule":
		runErr = cmdSchedule(ctx, app, os.Args[2:])
	case "status":
		runErr = cmdStatus(ctx, app)
	case "validate":
		runErr = cmdValidate(ctx, app, os.Args[2:])
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
	fmt.Fprintln(os.Stderr, "Usage: collectors <fetch|monthly|backfill|schedule|status|validate> [flags]")
}

// app bundles the wired collaborators every subcommand shares.
type app struct {
	cfg        *config.Config
	log        *logging.Logger
	auditLog   *audit.Log
	store      *postgres.Store
	registry   *collector.Registry
	resolver   trade.MapSynonymResolver
	thresholds *config.Thresholds
	calendar   *config.ReleaseCalendar
	runner     *orchestrator.Runner
}

func (a *app) Close() {
	if a.auditLog != nil {
		_ = a.auditLog.Close()
	}
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New("collectors", cfg.LogLevel, cfg.LogFormat)

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

	store := postgres.New(db)

	thresholds, err := config.LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		return nil, err
	}
	synonyms, err := config.LoadSynonyms(cfg.SynonymsFile)
	if err != nil {
		return nil, err
	}
	calendar, err := config.LoadReleaseCalendar(cfg.ReleaseCalendarFile)
	if err != nil {
		return nil, err
	}
	resolver := trade.MapSynonymResolver(synonyms.CountryToISO3)

	auditLog, err := audit.Open(cfg.LogDir, "collectors")
	if err != nil {
		return nil, err
	}

	cache, err := collector.NewCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	archiver, err := httpcore.NewArchiver(cfg.RawDir)
	if err != nil {
		return nil, err
	}

	registry := collector.NewRegistry()
	registerPlugins(registry, cache, archiver, store, auditLog, resolver)

	a := &app{
		cfg:        cfg,
		log:        log,
		auditLog:   auditLog,
		store:      store,
		registry:   registry,
		resolver:   resolver,
		thresholds: thresholds,
		calendar:   calendar,
	}
	a.runner = orchestrator.New(registry, resolver, thresholds, cfg.LogDir)
	return a, nil
}

// registerPlugins is the compile-time plugin manifest:
// every source and its declared config, in one place.
func registerPlugins(r *collector.Registry, cache *collector.Cache, archiver *httpcore.Archiver, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) {
	hourly := func(name, url string, auth collector.AuthType, key string, freq collector.Frequency) collector.Config {
		cfg := collector.Config{
			SourceName:         name,
			SourceURL:          url,
			AuthType:           auth,
			Timeout:            30 * time.Second,
			RetryAttempts:      3,
			RetryDelayBase:     time.Second,
			RateLimitPerMinute: 30,
			CacheEnabled:       true,
			CacheTTLHours:      6,
			Frequency:          freq,
		}
		if key != "" {
			cfg.Credentials = map[string]string{"api_key": os.Getenv(key)}
		}
		return cfg
	}

	argentina.Register(r, hourly(argentina.SourceName, "https://www.indec.gob.ar/comext", collector.AuthNone, "", collector.FreqMonthly), store, log, resolver)
	brazil.Register(r, hourly(brazil.SourceName, "https://api-comexstat.mdic.gov.br", collector.AuthNone, "", collector.FreqMonthly), store, log, resolver)
	colombia.Register(r, hourly(colombia.SourceName, "https://www.datos.gov.co/resource/comercio-exterior.json", collector.AuthNone, "", collector.FreqMonthly), store, log, resolver)
	uruguay.Register(r, hourly(uruguay.SourceName, "https://www.aduanas.gub.uy/exportaciones", collector.AuthNone, "", collector.FreqMonthly), archiver, store, log, resolver)
	paraguay.Register(r, hourly(paraguay.SourceName, "https://www.dnit.gov.py/comercio-exterior", collector.AuthNone, "", collector.FreqMonthly), cache, store, log, resolver)
	census.Register(r, hourly(census.SourceName, "https://api.census.gov/data/timeseries/intltrade", collector.AuthAPIKey, "CENSUS_API_KEY", collector.FreqMonthly), cache, store, log, resolver)
	usdanass.Register(r, hourly(usdanass.SourceName, "https://quickstats.nass.usda.gov/api/api_GET", collector.AuthAPIKey, "NASS_API_KEY", collector.FreqWeekly), cache, store, log)
	usdaams.Register(r, hourly(usdaams.SourceName, "https://marsapi.ams.usda.gov/services/v1.2/reports", collector.AuthAPIKey, "USDA_AMS_API_KEY", collector.FreqDaily), cache, store, log)
	eia.Register(r, hourly(eia.SourceName, "https://api.eia.gov/v2", collector.AuthAPIKey, "EIA_API_KEY", collector.FreqWeekly), cache, store, log)
	faspsd.Register(r, hourly(faspsd.SourceName, "https://api.fas.usda.gov/api/psd", collector.AuthAPIKey, "FAS_API_KEY", collector.FreqAnnual), cache, store, log)
	epaecho.Register(r, hourly(epaecho.SourceName, "https://echo.epa.gov/tools/web-services", collector.AuthNone, "", collector.FreqWeekly), cache, store, log)
	mpob.Register(r, hourly(mpob.SourceName, "https://bepi.mpob.gov.my/statistics", collector.AuthNone, "", collector.FreqMonthly), archiver, store, log)
	anec.Register(r, hourly(anec.SourceName, "https://anec.com.br/estatisticas", collector.AuthNone, "", collector.FreqWeekly), archiver, store, log)
	futures.Register(r, hourly(futures.SourceName, "", collector.AuthPaid, "", collector.FreqRealtime), store, log, []futures.PriceSource{
		{Name: "ibkr", URL: "https://localhost:5000/v1/api/md/snapshot", JSONPath: "price"},
		{Name: "tradestation", URL: "https://api.tradestation.com/v3/marketdata", JSONPath: "Close"},
	})
}

func parseFlows(s string) []trade.Flow {
	if s == "" {
		return nil
	}
	var flows []trade.Flow
	for _, f := range strings.Split(s, ",") {
		flows = append(flows, trade.Flow(strings.TrimSpace(f)))
	}
	return flows
}

func parseCountries(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(s, ",") {
		out = append(out, strings.ToUpper(strings.TrimSpace(c)))
	}
	return out
}

func cmdFetch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	country := fs.String("country", "", "reporting country ISO-3 code")
	year := fs.Int("year", 0, "target year")
	month := fs.Int("month", 0, "target month")
	flows := fs.String("flows", "", "comma-separated flows (export,import)")
	output := fs.String("output", "", "write the pipeline result JSON to this path")
	verbose := fs.Bool("verbose", false, "print per-pair detail")
	_ = fs.Parse(args)

	if *country == "" || *year == 0 || *month == 0 {
		return fmt.Errorf("fetch requires --country, --year and --month")
	}

	res, err := a.runner.RunMonthlyPipeline(ctx, *year, *month, []string{strings.ToUpper(*country)}, parseFlows(*flows), true)
	if err != nil {
		return err
	}
	if err := a.persistPipeline(ctx, res); err != nil {
		return err
	}
	if *output != "" {
		b, _ := json.MarshalIndent(res, "", "  ")
		if err := os.WriteFile(*output, b, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	printPipelineResult(res, *verbose)
	if !res.Success {
		os.Exit(1)
	}
	return nil
}

func cmdMonthly(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("monthly", flag.ExitOnError)
	year := fs.Int("year", 0, "target year")
	month := fs.Int("month", 0, "target month")
	countries := fs.String("countries", "", "comma-separated ISO-3 codes (default: all)")
	sequential := fs.Bool("sequential", false, "disable the parallel worker pool")
	_ = fs.Parse(args)

	if *year == 0 || *month == 0 {
		return fmt.Errorf("monthly requires --year and --month")
	}

	res, err := a.runner.RunMonthlyPipeline(ctx, *year, *month, parseCountries(*countries), nil, !*sequential)
	if err != nil {
		return err
	}
	if err := a.persistPipeline(ctx, res); err != nil {
		return err
	}
	printPipelineResult(res, true)
	if !res.Success {
		os.Exit(1)
	}
	return nil
}

// persistPipeline writes a pass's balance matrix to gold and records
// per-country run state.
func (a *app) persistPipeline(ctx context.Context, res *orchestrator.PipelineResult) error {
	if err := a.store.SaveBalanceMatrix(ctx, res.HarmonizationResults); err != nil {
		return err
	}
	for _, pr := range res.CountryResults {
		source := orchestrator.SourceForCountry(pr.Country)
		if source == "" {
			continue
		}
		if err := a.store.RecordRun(ctx, source, pr.Success, int64(pr.RecordsFetched)); err != nil {
			a.log.WithError(err).WithField("source", source).Warn("record run state failed")
		}
	}
	return nil
}

func cmdBackfill(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	startYear := fs.Int("start-year", 0, "first year")
	startMonth := fs.Int("start-month", 1, "first month")
	endYear := fs.Int("end-year", 0, "last year (default: start year)")
	endMonth := fs.Int("end-month", 12, "last month")
	countries := fs.String("countries", "", "comma-separated ISO-3 codes")
	_ = fs.Parse(args)

	if *startYear == 0 {
		return fmt.Errorf("backfill requires --start-year")
	}
	if *endYear == 0 {
		*endYear = *startYear
	}

	results, err := a.runner.RunHistoricalBackfill(ctx, *startYear, *startMonth, *endYear, *endMonth, parseCountries(*countries))
	for _, res := range results {
		if pErr := a.persistPipeline(ctx, res); pErr != nil && err == nil {
			err = pErr
		}
		fmt.Printf("%s: fetched=%d loaded=%d errors=%d\n",
			res.Start.Format("2006-01"), res.TotalRecordsFetched, res.TotalRecordsLoaded, res.TotalErrors)
	}
	return err
}

func cmdSchedule(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	list := fs.Bool("list", false, "list scheduled tasks")
	start := fs.Bool("start", false, "run the scheduler control loop")
	trigger := fs.String("trigger", "", "fire one source immediately")
	cronOut := fs.Bool("cron", false, "print each source's release descriptor")
	_ = fs.Parse(args)

	runFn := func(ctx context.Context, source string, year, month int) error {
		c, err := a.registry.Build(source)
		if err != nil {
			return err
		}
		periodStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		periodEnd := periodStart.AddDate(0, 1, 0).Add(-time.Second)
		summary := collector.Run(ctx, c, a.auditLog, periodStart, periodEnd, nil)
		if err := a.store.RecordRun(ctx, source, summary.Status == collector.StatusSuccess, int64(summary.RecordsFetched)); err != nil {
			a.log.WithError(err).WithField("source", source).Warn("record run state failed")
		}
		return summary.Err
	}

	sched := scheduler.New(a.calendar, time.Minute, runFn, a.log)

	switch {
	case *list:
		for _, t := range sched.Tasks() {
			fmt.Printf("%-20s %-10s next=%s failures=%d\n", t.Source, t.Frequency, t.NextRun.Format(time.RFC3339), t.ConsecutiveFailures)
		}
		return nil
	case *cronOut:
		for source, desc := range a.calendar.Sources {
			switch {
			case desc.CronExpression != "":
				fmt.Printf("%-20s cron=%q\n", source, desc.CronExpression)
			case desc.Frequency == "monthly":
				fmt.Printf("%-20s monthly day=%d lag_months=%d\n", source, desc.ReleaseDayOfMonth, desc.ReleaseLagMonths)
			default:
				fmt.Printf("%-20s %s day_of_week=%d hour=%d\n", source, desc.Frequency, desc.DayOfWeek, desc.Hour)
			}
		}
		return nil
	case *trigger != "":
		return sched.Trigger(ctx, *trigger)
	case *start:
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			a.log.Info("shutting down scheduler")
			sched.Stop()
		}()
		sched.Start(ctx)
		return nil
	default:
		return fmt.Errorf("schedule requires one of --list, --start, --trigger, --cron")
	}
}

func cmdStatus(ctx context.Context, a *app) error {
	fmt.Println("Registered sources:")
	for _, name := range a.registry.Sources() {
		cfg, _ := a.registry.ConfigFor(name)
		fmt.Printf("  %-20s auth=%-8s freq=%s\n", name, cfg.AuthType, cfg.Frequency)
	}

	states, err := a.store.RunStates(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\nRun state:")
	for _, s := range states {
		health := "healthy"
		if !s.IsHealthy() {
			health = "UNHEALTHY"
		}
		lastSuccess := "never"
		if s.LastSuccess != nil {
			lastSuccess = s.LastSuccess.Format(time.RFC3339)
		}
		fmt.Printf("  %-20s %s last_success=%s failures=%d requests=%d\n",
			s.SourceName, health, lastSuccess, s.ConsecutiveFailures, s.RequestCount)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Printf("\nHost memory: %.1f%% used\n", vm.UsedPercent)
	}
	if up, err := host.Uptime(); err == nil {
		fmt.Printf("Host uptime: %s\n", (time.Duration(up) * time.Second).String())
	}
	return nil
}

func cmdValidate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	logPath := fs.String("log", "", "collector audit log to verify")
	mode := fs.String("mode", "sample", "sample|full")
	samplePct := fs.Float64("sample-pct", 10, "sample percentage for sample mode")
	rulesPath := fs.String("severity-rules", "", "JSON file mapping field name to HIGH|MEDIUM|LOW")
	_ = fs.Parse(args)

	if *logPath == "" {
		return fmt.Errorf("validate requires --log")
	}

	rules := collector.SeverityRules{}
	if *rulesPath != "" {
		b, err := os.ReadFile(*rulesPath)
		if err != nil {
			return fmt.Errorf("read severity rules: %w", err)
		}
		if err := json.Unmarshal(b, &rules); err != nil {
			return fmt.Errorf("parse severity rules: %w", err)
		}
	}

	targets, err := collector.TargetsFromLog(*logPath)
	if err != nil {
		return err
	}
	selected := collector.SelectTargets(targets, collector.Mode(*mode), *samplePct, rand.New(rand.NewSource(time.Now().UnixNano())))

	session := httpcore.NewSession(httpcore.DefaultConfig("checker"), a.auditLog)
	fetch := func(verificationURL string) (map[string]interface{}, error) {
		resp, err := session.Request(ctx, http.MethodGet, verificationURL, nil, nil, nil)
		if err != nil {
			return nil, err
		}
		var out map[string]interface{}
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return nil, fmt.Errorf("parse fresh record: %w", err)
		}
		return out, nil
	}

	results := collector.Verify(selected, fetch, rules)
	if err := collector.LogResults(a.auditLog, collector.Mode(*mode), results); err != nil {
		return err
	}

	matches, mismatches, unavailable := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Unavailable:
			unavailable++
		case len(r.Mismatches) > 0:
			mismatches++
		default:
			matches++
		}
	}
	fmt.Printf("verified %d records: %d match, %d mismatch, %d unavailable\n",
		len(results), matches, mismatches, unavailable)
	if mismatches > 0 {
		os.Exit(1)
	}
	return nil
}

func printPipelineResult(res *orchestrator.PipelineResult, verbose bool) {
	status := "SUCCESS"
	if !res.Success {
		status = "FAILURE"
	}
	fmt.Printf("%s  %s  fetched=%d loaded=%d errors=%d discrepancies=%d alerts=%d\n",
		status, res.Start.Format("2006-01"),
		res.TotalRecordsFetched, res.TotalRecordsLoaded, res.TotalErrors,
		res.DiscrepancyCount, len(res.QualityAlerts))

	if verbose {
		for _, pr := range res.CountryResults {
			mark := "ok"
			if !pr.Success {
				mark = "FAIL: " + pr.Error
			}
			fmt.Printf("  %s/%s fetched=%d loaded=%d %s\n", pr.Country, pr.Flow, pr.RecordsFetched, pr.RecordsLoaded, mark)
		}
		for i, alert := range res.QualityAlerts {
			if i >= 5 {
				fmt.Printf("  ... %d more alerts in the JSON logs\n", len(res.QualityAlerts)-5)
				break
			}
			fmt.Printf("  alert: %s\n", alert.Message)
		}
	}
}
