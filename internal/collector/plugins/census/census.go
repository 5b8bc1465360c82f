// Package census implements the US Census foreign trade source plugin:
// the paginated cursor pattern — loop offset in page_size
// steps until a short page is returned, bounded by a hard safety cap.
package census

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
	"github.com/harvestline/agriforecast/internal/trade"
)

const (
	SourceName   = "census_trade"
	reporterISO3 = "USA"
	pageSize     = 1000
	safetyCap    = 1_000_000
)

type Collector struct {
	cfg      collector.Config
	session  *httpcore.Session
	cache    *collector.Cache
	store    collector.Store
	log      *audit.Log
	resolver trade.SynonymResolver
}

func New(cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) *Collector {
	return &Collector{
		cfg:      cfg,
		session:  httpcore.NewSession(cfg.HTTPConfig(), log),
		cache:    cache,
		store:    store,
		log:      log,
		resolver: resolver,
	}
}

func (c *Collector) Config() collector.Config { return c.cfg }

func (c *Collector) Authenticate(ctx context.Context) error {
	if c.cfg.Credentials["api_key"] == "" {
		return fmt.Errorf("census_trade: missing api_key credential")
	}
	return nil
}

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	var raw []trade.RawRecord
	offset := 0

	for {
		if offset >= safetyCap {
			break
		}
		resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL, map[string]string{
			"key":    c.cfg.Credentials["api_key"],
			"time":   start.Format("2006-01"),
			"limit":  strconv.Itoa(pageSize),
			"offset": strconv.Itoa(offset),
			"HS":     params["hs_code"],
		}, nil, nil)
		if err != nil {
			return nil, err
		}

		page := gjson.GetBytes(resp.Body, "data").Array()
		for _, row := range page {
			raw = append(raw, trade.RawRecord{
				DataSource:   SourceName,
				Reporter:     reporterISO3,
				Period:       row.Get("time").String(),
				HSCode:       row.Get("HS").String(),
				Commodity:    params["commodity"],
				CountryRaw:   row.Get("CTY_NAME").String(),
				Flow:         trade.Flow(params["flow"]),
				Quantity:     row.Get("QTY").Float(),
				QuantityUnit: trade.UnitMT,
				ValueFOB:     floatPtr(row.Get("ALL_VAL_MO").Float()),
			})
		}

		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}

	return &collector.Result{
		Success:        true,
		RecordsFetched: len(raw),
		Data:           raw,
		PeriodStart:    start,
		PeriodEnd:      end,
	}, nil
}

func floatPtr(f float64) *float64 { return &f }

func (c *Collector) ValidateData(data interface{}) bool {
	_, ok := data.([]trade.RawRecord)
	return ok
}

func (c *Collector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	raw, _ := data.([]trade.RawRecord)

	records := make([]map[string]interface{}, 0, len(raw))
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		h, err := trade.Harmonize(r, c.resolver)
		if err != nil {
			continue
		}
		records = append(records, h.SilverRow())
		ids = append(ids, fmt.Sprintf("%s-%s-%s-%s-%s", h.Period, h.HSCode, h.Reporter, h.Partner, h.Flow))
	}

	return map[string][]collector.SaveBatch{
		"silver_trade_flow": {{
			Table:             "silver_trade_flow",
			Records:           records,
			UniqueColumns:     trade.SilverKeyColumns(),
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

// Register wires the census_trade plugin into r.
func Register(r *collector.Registry, cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, cache, store, log, resolver), nil
	})
}
