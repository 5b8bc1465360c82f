// Package uruguay implements the Uruguay trade source plugin: a bulk
// CSV download parsed row by row, skipping malformed lines and failing
// the run only when more than 20% of rows fail to parse.
package uruguay

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
	"github.com/harvestline/agriforecast/internal/trade"
)

const (
	SourceName   = "uruguay_trade"
	reporterISO3 = "URY"
)

// headerKeywords matches the CSV columns by keyword rather than fixed
// position; Aduanas has reordered the export layout before.
var headerKeywords = map[string][]string{
	"hs_code":  {"ncm", "posicion"},
	"partner":  {"pais", "destino"},
	"quantity": {"kilos", "peso"},
	"value":    {"fob", "valor"},
}

type Collector struct {
	cfg      collector.Config
	session  *httpcore.Session
	archiver *httpcore.Archiver
	store    collector.Store
	log      *audit.Log
	resolver trade.SynonymResolver
}

func New(cfg collector.Config, archiver *httpcore.Archiver, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) *Collector {
	return &Collector{
		cfg:      cfg,
		session:  httpcore.NewSession(cfg.HTTPConfig(), log),
		archiver: archiver,
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

	resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL, map[string]string{
		"periodo": start.Format("200601"),
		"flujo":   string(flow),
		"formato": "csv",
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	if c.archiver != nil {
		if _, err := c.archiver.Save(SourceName, start.Format("2006-01"), "csv", resp.Body); err != nil {
			return nil, fmt.Errorf("archive csv: %w", err)
		}
	}

	raw, skipped, err := parseCSV(resp.Body, flow, start.Format("2006-01"), params["commodity"])
	if err != nil {
		return nil, err
	}

	result := &collector.Result{
		Success:        true,
		RecordsFetched: len(raw),
		Data:           raw,
		PeriodStart:    start,
		PeriodEnd:      end,
	}
	if skipped > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("skipped %d malformed rows", skipped))
	}
	return result, nil
}

// parseCSV reads the download, resolving columns by header keyword. Rows
// that fail to parse are skipped; when more than 20% fail the whole
// fetch is rejected.
func parseCSV(body []byte, flow trade.Flow, period, commodity string) ([]trade.RawRecord, int, error) {
	reader := csv.NewReader(strings.NewReader(string(body)))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("uruguay_trade: read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, 0, fmt.Errorf("uruguay_trade: csv has no data rows")
	}

	cols := matchHeader(rows[0])
	for logical := range headerKeywords {
		if _, ok := cols[logical]; !ok {
			return nil, 0, fmt.Errorf("uruguay_trade: csv header missing %q column", logical)
		}
	}

	raw := make([]trade.RawRecord, 0, len(rows)-1)
	skipped := 0
	for _, row := range rows[1:] {
		rec, err := parseRow(row, cols, flow, period, commodity)
		if err != nil {
			skipped++
			continue
		}
		raw = append(raw, rec)
	}

	total := len(rows) - 1
	if total > 0 && float64(skipped)/float64(total) > 0.20 {
		return nil, skipped, fmt.Errorf("uruguay_trade: %d of %d rows failed to parse", skipped, total)
	}
	return raw, skipped, nil
}

func matchHeader(header []string) map[string]int {
	cols := make(map[string]int)
	for i, cell := range header {
		lower := strings.ToLower(cell)
		for logical, keywords := range headerKeywords {
			if _, taken := cols[logical]; taken {
				continue
			}
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					cols[logical] = i
					break
				}
			}
		}
	}
	return cols
}

func parseRow(row []string, cols map[string]int, flow trade.Flow, period, commodity string) (trade.RawRecord, error) {
	get := func(logical string) (string, error) {
		i := cols[logical]
		if i >= len(row) {
			return "", fmt.Errorf("row too short for %q", logical)
		}
		return strings.TrimSpace(row[i]), nil
	}

	hsCode, err := get("hs_code")
	if err != nil {
		return trade.RawRecord{}, err
	}
	partner, err := get("partner")
	if err != nil {
		return trade.RawRecord{}, err
	}
	qtyStr, err := get("quantity")
	if err != nil {
		return trade.RawRecord{}, err
	}
	valStr, err := get("value")
	if err != nil {
		return trade.RawRecord{}, err
	}

	qty, err := strconv.ParseFloat(qtyStr, 64)
	if err != nil {
		return trade.RawRecord{}, fmt.Errorf("quantity %q: %w", qtyStr, err)
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return trade.RawRecord{}, fmt.Errorf("value %q: %w", valStr, err)
	}

	rec := trade.RawRecord{
		DataSource:   SourceName,
		Reporter:     reporterISO3,
		Period:       period,
		HSCode:       hsCode,
		Commodity:    commodity,
		CountryRaw:   partner,
		Flow:         flow,
		Quantity:     qty,
		QuantityUnit: trade.UnitKG,
	}
	if flow == trade.FlowImport {
		rec.ValueCIF = &val
	} else {
		rec.ValueFOB = &val
	}
	return rec, nil
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

// Register wires the uruguay_trade plugin into r.
func Register(r *collector.Registry, cfg collector.Config, archiver *httpcore.Archiver, store collector.Store, log *audit.Log, resolver trade.SynonymResolver) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, archiver, store, log, resolver), nil
	})
}
