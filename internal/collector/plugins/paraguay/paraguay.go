// Package paraguay implements the Paraguay trade source plugin: a JSON
// API whose numeric fields arrive as Spanish-formatted strings
// ("1.234.567,89"), normalized the same way the Brazil plugin handles
// Comex Stat's formatting.
package paraguay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
	"github.com/harvestline/agriforecast/internal/trade"
)

const (
	SourceName   = "paraguay_trade"
	reporterISO3 = "PRY"
)

// parseESNumber converts "1.234.567,89" to 1234567.89. Plain-formatted
// numbers without a decimal comma pass through unchanged.
func parseESNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

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

func (c *Collector) Authenticate(ctx context.Context) error { return nil }

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	flow := trade.FlowExport
	if params["flow"] == string(trade.FlowImport) {
		flow = trade.FlowImport
	}
	cacheKey := collector.Key(SourceName, string(flow), start.Format("2006-01"))

	var body []byte
	fromCache := false
	if c.cfg.CacheEnabled {
		if cached, ok := c.cache.Get(cacheKey, c.cfg.CacheTTLHours); ok {
			body, fromCache = cached, true
		}
	}

	if !fromCache {
		resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL, map[string]string{
			"anio":  strconv.Itoa(start.Year()),
			"mes":   strconv.Itoa(int(start.Month())),
			"flujo": string(flow),
		}, nil, nil)
		if err != nil {
			return nil, err
		}
		body = resp.Body
		if c.cfg.CacheEnabled {
			_ = c.cache.Set(cacheKey, body)
		}
	}

	rows := gjson.GetBytes(body, "registros").Array()
	raw := make([]trade.RawRecord, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		qty, qErr := parseESNumber(row.Get("kilos_netos").String())
		val, vErr := parseESNumber(row.Get("valor_usd").String())
		if qErr != nil || vErr != nil {
			skipped++
			continue
		}
		rec := trade.RawRecord{
			DataSource:   SourceName,
			Reporter:     reporterISO3,
			Period:       start.Format("2006-01"),
			HSCode:       row.Get("ncm").String(),
			Commodity:    params["commodity"],
			CountryRaw:   row.Get("pais").String(),
			Flow:         flow,
			Quantity:     qty,
			QuantityUnit: trade.UnitKG,
		}
		if flow == trade.FlowImport {
			rec.ValueCIF = &val
		} else {
			rec.ValueFOB = &val
		}
		raw = append(raw, rec)
	}

	if total := len(rows); total > 0 && float64(skipped)/float64(total) > 0.20 {
		return nil, fmt.Errorf("paraguay_trade: %d of %d rows failed to parse", skipped, total)
	}

	result := &collector.Result{
		Success:        true,
		RecordsFetched: len(raw),
		Data:           raw,
		PeriodStart:    start,
		PeriodEnd:      end,
		FromCache:      fromCache,
	}
	if skipped > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("skipped %d malformed rows", skipped))
	}
	return result, nil
}

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

// Register wires the paraguay_trade plugin into r.
func Register(r *collector.Registry, cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, cache, store, log, resolver), nil
	})
}
