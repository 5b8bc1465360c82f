// Package usdaams implements the USDA AMS market-report source plugin.
// AMS publishes many small per-market reports per day; fetching them one
// by one dominates run time, so FetchData fans out over the report slugs
// with a bounded-concurrency worker pool (a semaphore channel, not a
// goroutine-per-request free-for-all) and joins the results in slug
// order.
package usdaams

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
)

const (
	SourceName     = "usda_ams"
	maxConcurrency = 4
)

// reportSlugs are the daily grain market reports collected per run.
var reportSlugs = []string{
	"LM_GR110", // daily grain bids
	"LM_GR210", // terminal elevator bids
	"LM_GR850", // export bids
}

// PriceRow is one commodity price line from an AMS report.
type PriceRow struct {
	ReportSlug string
	Commodity  string
	Location   string
	PriceLow   float64
	PriceHigh  float64
	ReportDate string
}

type Collector struct {
	cfg     collector.Config
	cache   *collector.Cache
	store   collector.Store
	log     *audit.Log
	session *httpcore.Session
}

func New(cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log) *Collector {
	return &Collector{
		cfg:     cfg,
		cache:   cache,
		store:   store,
		log:     log,
		session: httpcore.NewSession(cfg.HTTPConfig(), log),
	}
}

func (c *Collector) Config() collector.Config { return c.cfg }

func (c *Collector) Authenticate(ctx context.Context) error {
	if c.cfg.Credentials["api_key"] == "" {
		return fmt.Errorf("usda_ams: missing api_key credential")
	}
	return nil
}

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	rowsBySlug, warnings := c.fetchConcurrent(ctx, start)

	var rows []PriceRow
	for _, slug := range reportSlugs {
		rows = append(rows, rowsBySlug[slug]...)
	}
	if len(rows) == 0 && len(warnings) == len(reportSlugs) {
		return nil, fmt.Errorf("usda_ams: all %d reports failed", len(reportSlugs))
	}

	return &collector.Result{
		Success:        true,
		RecordsFetched: len(rows),
		Data:           rows,
		PeriodStart:    start,
		PeriodEnd:      end,
		Warnings:       warnings,
	}, nil
}

// fetchConcurrent fans one request per report slug through a semaphore
// channel of width maxConcurrency. The shared Session still serializes
// rate-limit slots, so concurrency raises overlap of network waits
// without breaching the per-minute budget.
func (c *Collector) fetchConcurrent(ctx context.Context, date time.Time) (map[string][]PriceRow, []string) {
	var mu sync.Mutex
	rowsBySlug := make(map[string][]PriceRow, len(reportSlugs))
	var warnings []string

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for _, slug := range reportSlugs {
		wg.Add(1)
		sem <- struct{}{}
		go func(slug string) {
			defer wg.Done()
			defer func() { <-sem }()

			rows, err := c.fetchReport(ctx, slug, date)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("report %s: %v", slug, err))
				return
			}
			rowsBySlug[slug] = rows
		}(slug)
	}
	wg.Wait()

	return rowsBySlug, warnings
}

func (c *Collector) fetchReport(ctx context.Context, slug string, date time.Time) ([]PriceRow, error) {
	cacheKey := collector.Key(SourceName, slug, date.Format("2006-01-02"))
	var body []byte
	if c.cfg.CacheEnabled {
		if cached, ok := c.cache.Get(cacheKey, c.cfg.CacheTTLHours); ok {
			body = cached
		}
	}

	if body == nil {
		resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL+"/"+slug, map[string]string{
			"api_key": c.cfg.Credentials["api_key"],
			"q":       "report_date=" + date.Format("01/02/2006"),
		}, nil, nil)
		if err != nil {
			return nil, err
		}
		body = resp.Body
		if c.cfg.CacheEnabled {
			_ = c.cache.Set(cacheKey, body)
		}
	}

	var rows []PriceRow
	for _, r := range gjson.GetBytes(body, "results").Array() {
		rows = append(rows, PriceRow{
			ReportSlug: slug,
			Commodity:  r.Get("commodity").String(),
			Location:   r.Get("market_location_name").String(),
			PriceLow:   r.Get("price_min").Float(),
			PriceHigh:  r.Get("price_max").Float(),
			ReportDate: r.Get("report_date").String(),
		})
	}
	return rows, nil
}

func (c *Collector) ValidateData(data interface{}) bool {
	rows, ok := data.([]PriceRow)
	if !ok {
		return false
	}
	for _, r := range rows {
		if r.PriceLow < 0 || r.PriceHigh < r.PriceLow {
			return false
		}
	}
	return true
}

func (c *Collector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	rows, _ := data.([]PriceRow)

	records := make([]map[string]interface{}, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id := fmt.Sprintf("%s-%s-%s-%s", r.ReportSlug, r.ReportDate, r.Commodity, r.Location)
		records = append(records, map[string]interface{}{
			"id":          id,
			"report_slug": r.ReportSlug,
			"report_date": r.ReportDate,
			"commodity":   r.Commodity,
			"location":    r.Location,
			"price_low":   r.PriceLow,
			"price_high":  r.PriceHigh,
		})
		ids = append(ids, id)
	}

	return map[string][]collector.SaveBatch{
		"ams_market_price": {{
			Table:             "ams_market_price",
			Records:           records,
			UniqueColumns:     []string{"id"},
			AffectedRecordIDs: ids,
			SourceEndpoint:    c.cfg.SourceURL,
			VerificationURLFunc: func(recordID string) string {
				return c.cfg.SourceURL + "?record=" + recordID
			},
		}},
	}, nil
}

func (c *Collector) SaveData(ctx context.Context, batches map[string][]collector.SaveBatch) error {
	for _, tableBatches := range batches {
		for _, b := range tableBatches {
			affected, err := c.store.Upsert(ctx, b.Table, b.Records, b.UniqueColumns)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", b.Table, err)
			}
			b.AffectedRecordIDs = affected
			if err := collector.RecordSaveBatch(c.log, b, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// Register wires the usda_ams plugin into r.
func Register(r *collector.Registry, cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, cache, store, log), nil
	})
}
