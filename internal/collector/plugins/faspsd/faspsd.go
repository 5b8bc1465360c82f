// Package faspsd implements the USDA FAS PSD (Production, Supply and
// Distribution) source plugin: an annual balance-sheet JSON API queried
// per (commodity, marketing year), with attribute codes resolved through
// a declared alias list.
package faspsd

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
)

const SourceName = "usda_fas_psd"

// commodityCodes maps this platform's commodity names to PSD codes.
var commodityCodes = map[string]string{
	"corn":     "0440000",
	"soybeans": "2222000",
	"wheat":    "0410000",
}

// attributeAliases resolves a logical balance-sheet line to whichever
// attribute naming a given PSD release uses.
var attributeAliases = map[string][]string{
	"production":    {"Production", "production"},
	"exports":       {"Exports", "exports"},
	"ending_stocks": {"Ending Stocks", "endingStocks", "ending_stocks"},
	"country":       {"CountryName", "countryName", "country"},
	"value":         {"Value", "value"},
}

func resolve(row gjson.Result, logical string) gjson.Result {
	for _, alias := range attributeAliases[logical] {
		if v := row.Get(alias); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// BalanceRow is one (commodity, country, attribute, marketing year) line.
type BalanceRow struct {
	Commodity     string
	Country       string
	Attribute     string
	MarketingYear int
	Value         float64 // thousand metric tons
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
		return fmt.Errorf("usda_fas_psd: missing api_key credential")
	}
	return nil
}

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	commodity := params["commodity"]
	code, ok := commodityCodes[commodity]
	if !ok {
		return nil, fmt.Errorf("usda_fas_psd: no PSD code for commodity %q", commodity)
	}
	year := start.Year()
	cacheKey := collector.Key(SourceName, commodity, strconv.Itoa(year))

	var body []byte
	fromCache := false
	if c.cfg.CacheEnabled {
		if cached, ok := c.cache.Get(cacheKey, c.cfg.CacheTTLHours); ok {
			body, fromCache = cached, true
		}
	}

	if !fromCache {
		headers := http.Header{"API_KEY": []string{c.cfg.Credentials["api_key"]}}
		resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL+"/commodity/"+code+"/world/year/"+strconv.Itoa(year), nil, headers, nil)
		if err != nil {
			return nil, err
		}
		body = resp.Body
		if c.cfg.CacheEnabled {
			_ = c.cache.Set(cacheKey, body)
		}
	}

	var rows []BalanceRow
	for _, r := range gjson.ParseBytes(body).Array() {
		attr := r.Get("AttributeDescription").String()
		if attr == "" {
			attr = r.Get("attributeDescription").String()
		}
		rows = append(rows, BalanceRow{
			Commodity:     commodity,
			Country:       resolve(r, "country").String(),
			Attribute:     attr,
			MarketingYear: year,
			Value:         resolve(r, "value").Float(),
		})
	}

	return &collector.Result{
		Success:        true,
		RecordsFetched: len(rows),
		Data:           rows,
		PeriodStart:    start,
		PeriodEnd:      end,
		FromCache:      fromCache,
	}, nil
}

func (c *Collector) ValidateData(data interface{}) bool {
	rows, ok := data.([]BalanceRow)
	if !ok {
		return false
	}
	for _, r := range rows {
		if r.Country == "" || r.Attribute == "" {
			return false
		}
	}
	return true
}

func (c *Collector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	rows, _ := data.([]BalanceRow)

	records := make([]map[string]interface{}, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id := fmt.Sprintf("%s-%s-%s-%d", r.Commodity, r.Country, r.Attribute, r.MarketingYear)
		records = append(records, map[string]interface{}{
			"id":             id,
			"commodity":      r.Commodity,
			"country":        r.Country,
			"attribute":      r.Attribute,
			"marketing_year": r.MarketingYear,
			"value_tmt":      r.Value,
		})
		ids = append(ids, id)
	}

	return map[string][]collector.SaveBatch{
		"psd_balance": {{
			Table:             "psd_balance",
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

// Register wires the usda_fas_psd plugin into r.
func Register(r *collector.Registry, cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, cache, store, log), nil
	})
}
