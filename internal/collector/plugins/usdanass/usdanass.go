// Package usdanass implements the USDA NASS QuickStats source plugin: a
// single authenticated GET per (state, commodity) pair, JSON fields
// resolved through an alias list.
package usdanass

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
)

const SourceName = "usda_nass"

// fieldAliases resolves a logical field to whichever key NASS actually
// returns for a given statistic; QuickStats has renamed fields across
// API versions without deprecating the old name everywhere.
var fieldAliases = map[string][]string{
	"condition_good_excellent": {"Value", "value"},
	"state":                    {"state_alpha", "state_abbr"},
	"commodity":                {"commodity_desc", "commodity"},
	"week_ending":              {"week_ending", "load_time"},
}

func resolve(record gjson.Result, logical string) string {
	for _, alias := range fieldAliases[logical] {
		if v := record.Get(alias); v.Exists() {
			return v.String()
		}
	}
	return ""
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
	if c.cfg.AuthType != collector.AuthAPIKey {
		return nil
	}
	if c.cfg.Credentials["api_key"] == "" {
		return fmt.Errorf("usda_nass: missing api_key credential")
	}
	return nil
}

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	state := params["state"]
	commodity := params["commodity"]
	cacheKey := collector.Key(SourceName, state, commodity, start.Format("2006-01"))

	var body []byte
	fromCache := false
	if c.cfg.CacheEnabled {
		if cached, ok := c.cache.Get(cacheKey, c.cfg.CacheTTLHours); ok {
			body, fromCache = cached, true
		}
	}

	if !fromCache {
		resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL, map[string]string{
			"key":             c.cfg.Credentials["api_key"],
			"state_alpha":     state,
			"commodity_desc":  commodity,
			"year":            strconv.Itoa(start.Year()),
			"format":          "JSON",
		}, nil, nil)
		if err != nil {
			return nil, err
		}
		body = resp.Body
		if c.cfg.CacheEnabled {
			_ = c.cache.Set(cacheKey, body)
		}
	}

	records := gjson.GetBytes(body, "data").Array()
	return &collector.Result{
		Success:        true,
		RecordsFetched: len(records),
		Data:           records,
		PeriodStart:    start,
		PeriodEnd:      end,
		FromCache:      fromCache,
	}, nil
}

func (c *Collector) ValidateData(data interface{}) bool {
	records, ok := data.([]gjson.Result)
	return ok && len(records) >= 0
}

func (c *Collector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	records, _ := data.([]gjson.Result)

	rows := make([]map[string]interface{}, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		state := resolve(r, "state")
		weekEnding := resolve(r, "week_ending")
		id := state + "-" + weekEnding
		rows = append(rows, map[string]interface{}{
			"id":                       id,
			"state":                    state,
			"commodity":                resolve(r, "commodity"),
			"week_ending":              weekEnding,
			"condition_good_excellent": resolve(r, "condition_good_excellent"),
		})
		ids = append(ids, id)
	}

	return map[string][]collector.SaveBatch{
		"crop_condition": {{
			Table:             "crop_condition",
			Records:           rows,
			UniqueColumns:     []string{"id"},
			AffectedRecordIDs: ids,
			SourceEndpoint:    c.cfg.SourceURL,
			VerificationURLFunc: func(recordID string) string {
				return c.cfg.SourceURL + "?id=" + recordID
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
			update := len(affected) < len(b.Records)
			if err := collector.RecordSaveBatch(c.log, b, update); err != nil {
				return err
			}
		}
	}
	return nil
}

// Register wires the usda_nass plugin into r.
func Register(r *collector.Registry, cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, cache, store, log), nil
	})
}
