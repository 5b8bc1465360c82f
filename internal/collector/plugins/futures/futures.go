// Package futures implements a commodity futures price source plugin:
// the multi-source fallback pattern, trying configured
// price feeds in declared preference order and annotating records with
// whichever one actually answered.
package futures

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
)

const SourceName = "futures"

type PriceSource struct {
	Name     string
	URL      string
	JSONPath string // gjson path to the settlement price within the response
}

type PricePoint struct {
	Contract string
	Date     string
	SettlePrice float64
	SourceUsed  string
}

type Collector struct {
	cfg     collector.Config
	session *httpcore.Session
	store   collector.Store
	log     *audit.Log
	sources []PriceSource // tried in this order; first reachable wins
}

func New(cfg collector.Config, store collector.Store, log *audit.Log, sources []PriceSource) *Collector {
	return &Collector{
		cfg:     cfg,
		session: httpcore.NewSession(cfg.HTTPConfig(), log),
		store:   store,
		log:     log,
		sources: sources,
	}
}

func (c *Collector) Config() collector.Config { return c.cfg }

func (c *Collector) Authenticate(ctx context.Context) error { return nil }

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	var lastErr error
	for _, src := range c.sources {
		if !c.reachable(ctx, src) {
			continue
		}

		resp, err := c.session.Request(ctx, "GET", src.URL, map[string]string{
			"contract": params["contract"],
			"date":     start.Format("2006-01-02"),
		}, nil, nil)
		if err != nil {
			lastErr = err
			continue
		}

		rows := gjson.GetBytes(resp.Body, "data").Array()
		points := make([]PricePoint, 0, len(rows))
		for _, row := range rows {
			points = append(points, PricePoint{
				Contract:    params["contract"],
				Date:        row.Get("date").String(),
				SettlePrice: row.Get(src.JSONPath).Float(),
				SourceUsed:  src.Name,
			})
		}

		return &collector.Result{
			Success:        true,
			RecordsFetched: len(points),
			Data:           points,
			PeriodStart:    start,
			PeriodEnd:      end,
			Warnings:       []string{"source_used:" + src.Name},
		}, nil
	}
	return nil, fmt.Errorf("futures: no configured source reachable: %w", lastErr)
}

// reachable is the connectivity check a fallback source must pass
// before it is tried: a lightweight probe, not the real fetch.
func (c *Collector) reachable(ctx context.Context, src PriceSource) bool {
	resp, err := c.session.Request(ctx, "HEAD", src.URL, nil, nil, nil)
	return err == nil && resp.StatusCode < 500
}

func (c *Collector) ValidateData(data interface{}) bool {
	points, ok := data.([]PricePoint)
	return ok && len(points) >= 0
}

func (c *Collector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	points, _ := data.([]PricePoint)

	records := make([]map[string]interface{}, 0, len(points))
	ids := make([]string, 0, len(points))
	for _, p := range points {
		id := p.Contract + "-" + p.Date
		records = append(records, map[string]interface{}{
			"id":           id,
			"contract":     p.Contract,
			"date":         p.Date,
			"settle_price": p.SettlePrice,
			"source_used":  p.SourceUsed,
		})
		ids = append(ids, id)
	}

	return map[string][]collector.SaveBatch{
		"futures_prices": {{
			Table:             "futures_prices",
			Records:           records,
			UniqueColumns:     []string{"id"},
			AffectedRecordIDs: ids,
			SourceEndpoint:    c.cfg.SourceURL,
			VerificationURLFunc: func(recordID string) string {
				return c.cfg.SourceURL + "?contract=" + recordID
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

// Register wires the futures plugin into r.
func Register(r *collector.Registry, cfg collector.Config, store collector.Store, log *audit.Log, sources []PriceSource) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, store, log, sources), nil
	})
}
