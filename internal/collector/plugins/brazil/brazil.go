// Package brazil implements the Brazil Comex Stat source plugin:
// multi-version API retry plus Brazilian-format number normalization
// (`.` thousands, `,` decimal).
package brazil

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
	SourceName   = "brazil_trade"
	reporterISO3 = "BRA"
)

// apiVersions is the fixed order Comex Stat's API versions are tried in;
// each is attempted once per run with no per-version retry beyond the
// existing HTTP-level retry/backoff (collector-level retry still applies
// within a single version attempt).
var apiVersions = []string{"v2", "v1"}

// parseBRNumber converts a Brazilian-formatted number string ("1.234,56")
// into a float64.
func parseBRNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

type Collector struct {
	cfg      collector.Config
	session  *httpcore.Session
	store    collector.Store
	log      *audit.Log
	resolver trade.SynonymResolver
}

func New(cfg collector.Config, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) *Collector {
	return &Collector{
		cfg:      cfg,
		session:  httpcore.NewSession(cfg.HTTPConfig(), log),
		store:    store,
		log:      log,
		resolver: resolver,
	}
}

func (c *Collector) Config() collector.Config { return c.cfg }

func (c *Collector) Authenticate(ctx context.Context) error { return nil }

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	var lastErr error
	for _, version := range apiVersions {
		resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL+"/"+version+"/general", map[string]string{
			"ano": strconv.Itoa(start.Year()),
			"mes": start.Format("01"),
			"ncm": params["hs_code"],
		}, nil, nil)
		if err != nil {
			lastErr = err
			continue
		}

		rows := gjson.GetBytes(resp.Body, "data").Array()
		raw := make([]trade.RawRecord, 0, len(rows))
		var warnings []string
		for _, row := range rows {
			qty, err := parseBRNumber(row.Get("kgLiquido").String())
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("unparseable quantity: %v", err))
				continue
			}
			value, err := parseBRNumber(row.Get("vlFob").String())
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("unparseable value: %v", err))
				continue
			}
			raw = append(raw, trade.RawRecord{
				DataSource:   SourceName,
				Reporter:     reporterISO3,
				Period:       start.Format("2006-01"),
				HSCode:       row.Get("coNcm").String(),
				Commodity:    params["commodity"],
				CountryRaw:   row.Get("noPais").String(),
				Flow:         trade.FlowExport,
				Quantity:     qty,
				QuantityUnit: trade.UnitKG,
				ValueFOB:     &value,
			})
		}

		return &collector.Result{
			Success:        true,
			RecordsFetched: len(raw),
			Data:           raw,
			PeriodStart:    start,
			PeriodEnd:      end,
			Warnings:       append(warnings, "api_version:"+version),
		}, nil
	}
	return nil, fmt.Errorf("brazil_trade: all api versions exhausted: %w", lastErr)
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

// Register wires the brazil_trade plugin into r.
func Register(r *collector.Registry, cfg collector.Config, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, store, log, resolver), nil
	})
}
