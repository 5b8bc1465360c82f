// Package orchestrator drives one dated trade pipeline pass: fan out
// the configured country/flow collectors through a bounded worker pool,
// run each plugin's validate/transform/save steps so silver rows are
// persisted with their DATA_SAVE audit lines, then harmonize, build the
// balance matrix, run the quality validator, and return a structured
// PipelineResult.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/trade"
)

// CountryFlow is one unit of fan-out work: one country's one flow for
// the target period.
type CountryFlow struct {
	Country string
	Flow    trade.Flow
}

// sourceForCountry maps a reporting country to its registered collector
// source name.
var sourceForCountry = map[string]string{
	"ARG": "argentina_trade",
	"BRA": "brazil_trade",
	"USA": "census_trade",
	"COL": "colombia_trade",
	"URY": "uruguay_trade",
	"PRY": "paraguay_trade",
}

// SourceForCountry returns the registered collector source name for a
// reporting country, or "" when no collector covers it.
func SourceForCountry(country string) string {
	return sourceForCountry[country]
}

// PairResult is one (country, flow)'s outcome.
type PairResult struct {
	Country        string
	Flow           trade.Flow
	Success        bool
	RecordsFetched int
	RecordsLoaded  int
	Error          string
}

// PipelineResult is run_monthly_pipeline's return value.
type PipelineResult struct {
	Success               bool
	Start                 time.Time
	End                   time.Time
	PeriodsProcessed      int
	CountriesProcessed    int
	TotalRecordsFetched   int
	TotalRecordsLoaded    int
	TotalErrors           int
	CountryResults        []PairResult
	HarmonizationResults  []trade.BalanceMatrixEntry
	DiscrepancyCount      int
	QualityAlerts         []QualityAlert
}

const maxQualityAlerts = 100

// maxWorkers is the orchestrator's worker-pool cap.
const maxWorkers = 4

// Runner drives one pipeline pass. registry supplies trade collectors by
// source name; resolver maps country-name synonyms during harmonization.
type Runner struct {
	registry   *collector.Registry
	resolver   trade.SynonymResolver
	thresholds *config.Thresholds
	logDir     string
}

// New builds a Runner.
func New(registry *collector.Registry, resolver trade.SynonymResolver, thresholds *config.Thresholds, logDir string) *Runner {
	return &Runner{registry: registry, resolver: resolver, thresholds: thresholds, logDir: logDir}
}

// RunMonthlyPipeline is the run_monthly_pipeline.
func (r *Runner) RunMonthlyPipeline(ctx context.Context, year, month int, countries []string, flows []trade.Flow, parallel bool) (*PipelineResult, error) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)

	if len(countries) == 0 {
		countries = sortedKeys(sourceForCountry)
	}
	if len(flows) == 0 {
		flows = []trade.Flow{trade.FlowExport, trade.FlowImport}
	}

	pairs := make([]CountryFlow, 0, len(countries)*len(flows))
	for _, c := range countries {
		for _, f := range flows {
			pairs = append(pairs, CountryFlow{Country: c, Flow: f})
		}
	}

	pairResults, harmonized := r.runPairs(ctx, pairs, start, end, parallel)

	// Both sides of one bilateral flow land on the same (exporter,
	// importer) key: an export record keys (reporter, partner), the
	// mirrored import record keys (partner, reporter).
	exports := make(map[trade.BalanceKey]float64)
	imports := make(map[trade.BalanceKey]float64)
	for _, h := range harmonized {
		if h.Flow == trade.FlowExport {
			exports[h.ExportKey()] += h.ValueUSD
		} else {
			imports[h.ImportKey()] += h.ValueUSD
		}
	}
	threshold := 0.10
	if r.thresholds != nil && r.thresholds.BalanceDiscrepancyPct > 0 {
		threshold = r.thresholds.BalanceDiscrepancyPct
	}
	matrix := trade.BuildBalanceMatrix(exports, imports, threshold)

	discrepancies := 0
	for _, m := range matrix {
		if m.Discrepancy {
			discrepancies++
		}
	}

	alerts := ValidateQuality(harmonized, r.thresholds)
	if len(alerts) > maxQualityAlerts {
		alerts = alerts[:maxQualityAlerts]
	}

	result := &PipelineResult{
		Start:                start,
		End:                  end,
		PeriodsProcessed:     1,
		CountriesProcessed:   len(countries),
		CountryResults:       pairResults,
		HarmonizationResults: matrix,
		DiscrepancyCount:     discrepancies,
		QualityAlerts:        alerts,
	}
	result.Success = true
	for _, pr := range pairResults {
		result.TotalRecordsFetched += pr.RecordsFetched
		result.TotalRecordsLoaded += pr.RecordsLoaded
		if !pr.Success {
			result.TotalErrors++
			result.Success = false
		}
	}
	return result, nil
}

// RunHistoricalBackfill iterates month by month from (startYear,
// startMonth) through (endYear, endMonth) inclusive
func (r *Runner) RunHistoricalBackfill(ctx context.Context, startYear, startMonth, endYear, endMonth int, countries []string) ([]*PipelineResult, error) {
	results := make([]*PipelineResult, 0)
	cursor := time.Date(startYear, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(endYear, time.Month(endMonth), 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(last) {
		res, err := r.RunMonthlyPipeline(ctx, cursor.Year(), int(cursor.Month()), countries, nil, true)
		if err != nil {
			return results, fmt.Errorf("backfill %04d-%02d: %w", cursor.Year(), cursor.Month(), err)
		}
		results = append(results, res)
		cursor = cursor.AddDate(0, 1, 0)
	}
	return results, nil
}

func (r *Runner) runPairs(ctx context.Context, pairs []CountryFlow, start, end time.Time, parallel bool) ([]PairResult, []trade.HarmonizedRecord) {
	results := make([]PairResult, len(pairs))
	harmonizedByPair := make([][]trade.HarmonizedRecord, len(pairs))

	worker := func(i int) {
		pr, h := r.runPair(ctx, pairs[i], start, end)
		results[i] = pr
		harmonizedByPair[i] = h
	}

	if !parallel {
		for i := range pairs {
			worker(i)
		}
	} else {
		sem := make(chan struct{}, maxWorkers)
		var wg sync.WaitGroup
		for i := range pairs {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				worker(i)
			}(i)
		}
		wg.Wait()
	}

	all := make([]trade.HarmonizedRecord, 0)
	for _, h := range harmonizedByPair {
		all = append(all, h...)
	}
	return results, all
}

func (r *Runner) runPair(ctx context.Context, pair CountryFlow, start, end time.Time) (PairResult, []trade.HarmonizedRecord) {
	result := PairResult{Country: pair.Country, Flow: pair.Flow}

	source, ok := sourceForCountry[pair.Country]
	if !ok {
		result.Error = fmt.Sprintf("no registered collector for country %q", pair.Country)
		return result, nil
	}

	c, err := r.registry.Build(source)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	log, logErr := audit.Open(r.logDir, source)
	if logErr != nil {
		result.Error = logErr.Error()
		return result, nil
	}
	defer log.Close()

	params := map[string]string{"flow": string(pair.Flow)}
	fetched, err := c.FetchData(ctx, start, end, params)
	if err != nil {
		_ = log.Record(audit.LevelError, audit.ActionError, map[string]interface{}{"error": err.Error(), "flow": string(pair.Flow)}, nil)
		result.Error = err.Error()
		return result, nil
	}
	result.RecordsFetched = fetched.RecordsFetched

	raw, ok := fetched.Data.([]trade.RawRecord)
	if !ok {
		result.Error = "fetch_data did not return trade.RawRecord rows"
		return result, nil
	}

	if !c.ValidateData(fetched.Data) {
		_ = log.Validation(map[string]interface{}{"passed": false, "flow": string(pair.Flow)})
		result.Error = "validate_data rejected fetched payload"
		return result, nil
	}
	_ = log.Validation(map[string]interface{}{"passed": true, "flow": string(pair.Flow)})

	// The plugin's own transform/save persists the silver rows and emits
	// one DATA_SAVE per table; the in-process harmonization below only
	// feeds the balance matrix and quality validator.
	tables, err := c.TransformData(fetched.Data)
	if err != nil {
		_ = log.Error(err.Error(), map[string]interface{}{"flow": string(pair.Flow)})
		result.Error = err.Error()
		return result, nil
	}
	if err := c.SaveData(ctx, tables); err != nil {
		_ = log.Error(err.Error(), map[string]interface{}{"flow": string(pair.Flow)})
		result.Error = err.Error()
		return result, nil
	}
	for _, tableBatches := range tables {
		for _, b := range tableBatches {
			result.RecordsLoaded += len(b.Records)
		}
	}

	harmonized := make([]trade.HarmonizedRecord, 0, len(raw))
	skipped := 0
	for _, rr := range raw {
		h, err := trade.Harmonize(rr, r.resolver)
		if err != nil {
			skipped++
			continue
		}
		harmonized = append(harmonized, *h)
	}
	result.Success = true
	_ = log.Record(audit.LevelInfo, audit.ActionAPICall, map[string]interface{}{
		"records_fetched":    result.RecordsFetched,
		"records_loaded":     result.RecordsLoaded,
		"records_harmonized": len(harmonized),
		"records_skipped":    skipped,
		"flow":               string(pair.Flow),
	}, nil)
	return result, harmonized
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
