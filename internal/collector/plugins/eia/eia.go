// Package eia implements the EIA ethanol source plugin: a single
// authenticated JSON series fetch per run, weekly production and stocks
// figures for the fuel-ethanol complex that feeds corn demand analysis.
package eia

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
)

const SourceName = "eia_ethanol"

// seriesIDs are the v2 API routes fetched each run.
var seriesIDs = []string{
	"petroleum/pnp/wprodrb/weekly", // weekly ethanol production
	"petroleum/stoc/wstk/weekly",   // weekly ethanol stocks
}

// Observation is one (series, period) reading.
type Observation struct {
	SeriesID string
	Period   string
	Value    float64
	Units    string
}

type Collector struct {
	cfg     collector.Config
	session *httpcore.Session
	cache   *collector.Cache
	store   collector.Store
	log     *audit.Log
}

func New(cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log) *Collector {
	return &Collector{
		cfg:     cfg,
		session: httpcore.NewSession(cfg.HTTPConfig(), log),
		cache:   cache,
		store:   store,
		log:     log,
	}
}

func (c *Collector) Config() collector.Config { return c.cfg }

func (c *Collector) Authenticate(ctx context.Context) error {
	if c.cfg.Credentials["api_key"] == "" {
		return fmt.Errorf("eia_ethanol: missing api_key credential")
	}
	return nil
}

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	var obs []Observation
	var warnings []string

	for _, series := range seriesIDs {
		rows, err := c.fetchSeries(ctx, series, start, end)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("series %s: %v", series, err))
			continue
		}
		obs = append(obs, rows...)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("eia_ethanol: no series returned data")
	}

	return &collector.Result{
		Success:        true,
		RecordsFetched: len(obs),
		Data:           obs,
		PeriodStart:    start,
		PeriodEnd:      end,
		Warnings:       warnings,
	}, nil
}

func (c *Collector) fetchSeries(ctx context.Context, series string, start, end time.Time) ([]Observation, error) {
	cacheKey := collector.Key(SourceName, series, start.Format("2006-01-02"), end.Format("2006-01-02"))
	var body []byte
	if c.cfg.CacheEnabled {
		if cached, ok := c.cache.Get(cacheKey, c.cfg.CacheTTLHours); ok {
			body = cached
		}
	}

	if body == nil {
		resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL+"/"+series+"/data", map[string]string{
			"api_key": c.cfg.Credentials["api_key"],
			"start":   start.Format("2006-01-02"),
			"end":     end.Format("2006-01-02"),
		}, nil, nil)
		if err != nil {
			return nil, err
		}
		body = resp.Body
		if c.cfg.CacheEnabled {
			_ = c.cache.Set(cacheKey, body)
		}
	}

	var obs []Observation
	for _, r := range gjson.GetBytes(body, "response.data").Array() {
		obs = append(obs, Observation{
			SeriesID: series,
			Period:   r.Get("period").String(),
			Value:    r.Get("value").Float(),
			Units:    r.Get("units").String(),
		})
	}
	return obs, nil
}

func (c *Collector) ValidateData(data interface{}) bool {
	obs, ok := data.([]Observation)
	if !ok {
		return false
	}
	for _, o := range obs {
		if o.Value < 0 {
			return false
		}
	}
	return true
}

func (c *Collector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	obs, _ := data.([]Observation)

	records := make([]map[string]interface{}, 0, len(obs))
	ids := make([]string, 0, len(obs))
	for _, o := range obs {
		id := fmt.Sprintf("%s-%s", o.SeriesID, o.Period)
		records = append(records, map[string]interface{}{
			"id":        id,
			"series_id": o.SeriesID,
			"period":    o.Period,
			"value":     o.Value,
			"units":     o.Units,
		})
		ids = append(ids, id)
	}

	return map[string][]collector.SaveBatch{
		"ethanol_series": {{
			Table:             "ethanol_series",
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

// Register wires the eia_ethanol plugin into r.
func Register(r *collector.Registry, cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, cache, store, log), nil
	})
}
