// Package argentina implements the Argentina grain export source plugin:
// the multi-source fallback pattern — try declared upstream
// mirrors in preference order, use the first one whose connectivity check
// passes, and annotate records with the source actually used.
package argentina

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
	"github.com/harvestline/agriforecast/internal/trade"
)

const (
	SourceName   = "argentina_trade"
	reporterISO3 = "ARG"
)

// mirrors are tried in this fixed preference order; the first reachable
// one wins for the whole fetch.
var mirrors = []string{
	"https://www.indec.gob.ar/comext",
	"https://www.magyp.gob.ar/sitio/areas/ss_mercados_agropecuarios/estadistica",
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
	for _, mirror := range mirrors {
		resp, err := c.session.Request(ctx, "GET", mirror, map[string]string{
			"periodo": start.Format("2006-01"),
		}, nil, nil)
		if err != nil {
			lastErr = err
			continue
		}

		rows := gjson.GetBytes(resp.Body, "data").Array()
		raw := make([]trade.RawRecord, 0, len(rows))
		for _, row := range rows {
			raw = append(raw, trade.RawRecord{
				DataSource:   SourceName,
				Reporter:     reporterISO3,
				Period:       start.Format("2006-01"),
				HSCode:       row.Get("posicion_arancelaria").String(),
				Commodity:    params["commodity"],
				CountryRaw:   row.Get("pais_destino").String(),
				Flow:         trade.FlowExport,
				Quantity:     row.Get("cantidad").Float(),
				QuantityUnit: trade.UnitThousandMT,
				ValueFOB:     floatPtr(row.Get("valor_fob").Float()),
			})
		}

		return &collector.Result{
			Success:        true,
			RecordsFetched: len(raw),
			Data:           raw,
			PeriodStart:    start,
			PeriodEnd:      end,
			Warnings:       []string{"source_used:" + mirror},
		}, nil
	}
	return nil, fmt.Errorf("argentina_trade: all mirrors unreachable: %w", lastErr)
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

// Register wires the argentina_trade plugin into r.
func Register(r *collector.Registry, cfg collector.Config, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, store, log, resolver), nil
	})
}
