// Package colombia implements the Colombia trade source plugin: a
// Socrata-style paginated JSON API ($offset/$limit cursor), looped until
// a short page comes back.3's paginated cursor pattern.
package colombia

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
	SourceName   = "colombia_trade"
	reporterISO3 = "COL"
	pageSize     = 5000
	safetyCap    = 1_000_000
)

// fieldAliases covers the column renames DANE's open-data portal has
// shipped across dataset revisions.
var fieldAliases = map[string][]string{
	"hs_code":   {"posicion", "codigo_arancelario", "posicion_arancelaria"},
	"partner":   {"pais_destino", "pais", "pais_origen"},
	"quantity":  {"peso_neto_kg", "kilos_netos"},
	"value_fob": {"valor_fob_usd", "fob_dolares"},
	"value_cif": {"valor_cif_usd", "cif_dolares"},
}

func resolve(row gjson.Result, logical string) gjson.Result {
	for _, alias := range fieldAliases[logical] {
		if v := row.Get(alias); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
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
	flow := trade.FlowExport
	if params["flow"] == string(trade.FlowImport) {
		flow = trade.FlowImport
	}

	var raw []trade.RawRecord
	for offset := 0; ; offset += pageSize {
		if offset >= safetyCap {
			return nil, fmt.Errorf("colombia_trade: safety cap of %d records hit for %s", safetyCap, start.Format("2006-01"))
		}

		resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL, map[string]string{
			"periodo": start.Format("2006-01"),
			"flujo":   string(flow),
			"$limit":  strconv.Itoa(pageSize),
			"$offset": strconv.Itoa(offset),
		}, nil, nil)
		if err != nil {
			return nil, err
		}

		rows := gjson.ParseBytes(resp.Body).Array()
		for _, row := range rows {
			rec := trade.RawRecord{
				DataSource:   SourceName,
				Reporter:     reporterISO3,
				Period:       start.Format("2006-01"),
				HSCode:       resolve(row, "hs_code").String(),
				Commodity:    params["commodity"],
				CountryRaw:   resolve(row, "partner").String(),
				Flow:         flow,
				Quantity:     resolve(row, "quantity").Float(),
				QuantityUnit: trade.UnitKG,
			}
			if v := resolve(row, "value_fob"); v.Exists() {
				f := v.Float()
				rec.ValueFOB = &f
			}
			if v := resolve(row, "value_cif"); v.Exists() {
				f := v.Float()
				rec.ValueCIF = &f
			}
			raw = append(raw, rec)
		}

		if len(rows) < pageSize {
			break
		}
	}

	return &collector.Result{
		Success:        true,
		RecordsFetched: len(raw),
		Data:           raw,
		PeriodStart:    start,
		PeriodEnd:      end,
	}, nil
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

// Register wires the colombia_trade plugin into r.
func Register(r *collector.Registry, cfg collector.Config, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, store, log, resolver), nil
	})
}
