// Package mpob implements the MPOB (Malaysian Palm Oil Board) source
// plugin: monthly supply/demand figures published as an HTML page, parsed
// by matching table header keywords then reading cells.
package mpob

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
)

const SourceName = "mpob"

// headerKeywords identifies the statistics table among the page's many
// tables: its header row must mention at least two of these.
var headerKeywords = []string{"production", "stocks", "exports", "imports"}

var (
	tableRe = regexp.MustCompile(`(?is)<table[^>]*>(.*?)</table>`)
	rowRe   = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	cellRe  = regexp.MustCompile(`(?is)<t[hd][^>]*>(.*?)</t[hd]>`)
	tagRe   = regexp.MustCompile(`<[^>]+>`)
)

// StatRow is one metric line from the monthly statistics table.
type StatRow struct {
	Metric   string
	ValueMT  float64
	Period   string
}

type Collector struct {
	cfg      collector.Config
	session  *httpcore.Session
	archiver *httpcore.Archiver
	store    collector.Store
	log      *audit.Log
}

func New(cfg collector.Config, archiver *httpcore.Archiver, store collector.Store, log *audit.Log) *Collector {
	return &Collector{
		cfg:      cfg,
		session:  httpcore.NewSession(cfg.HTTPConfig(), log),
		archiver: archiver,
		store:    store,
		log:      log,
	}
}

func (c *Collector) Config() collector.Config { return c.cfg }

func (c *Collector) Authenticate(ctx context.Context) error { return nil }

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL, map[string]string{
		"year":  strconv.Itoa(start.Year()),
		"month": strconv.Itoa(int(start.Month())),
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	if c.archiver != nil {
		if _, err := c.archiver.Save(SourceName, start.Format("2006-01"), "json", resp.Body); err != nil {
			return nil, fmt.Errorf("archive html: %w", err)
		}
	}

	rows := ParseStatsTable(string(resp.Body), start.Format("2006-01"))
	if len(rows) == 0 {
		return nil, fmt.Errorf("mpob: no statistics table found for %s", start.Format("2006-01"))
	}

	return &collector.Result{
		Success:        true,
		RecordsFetched: len(rows),
		Data:           rows,
		PeriodStart:    start,
		PeriodEnd:      end,
	}, nil
}

// ParseStatsTable scans every <table> on the page, picks the first whose
// header row matches at least two of headerKeywords, and reads its
// (label, value) rows.
func ParseStatsTable(html, period string) []StatRow {
	for _, table := range tableRe.FindAllStringSubmatch(html, -1) {
		trs := rowRe.FindAllStringSubmatch(table[1], -1)
		if len(trs) < 2 {
			continue
		}
		if !headerMatches(cellTexts(trs[0][1])) {
			continue
		}

		var rows []StatRow
		for _, tr := range trs[1:] {
			cells := cellTexts(tr[1])
			if len(cells) < 2 {
				continue
			}
			value, err := parseNumber(cells[1])
			if err != nil {
				continue
			}
			rows = append(rows, StatRow{
				Metric:  strings.ToLower(cells[0]),
				ValueMT: value,
				Period:  period,
			})
		}
		if len(rows) > 0 {
			return rows
		}
	}
	return nil
}

func headerMatches(cells []string) bool {
	joined := strings.ToLower(strings.Join(cells, " "))
	matched := 0
	for _, kw := range headerKeywords {
		if strings.Contains(joined, kw) {
			matched++
		}
	}
	return matched >= 2
}

func cellTexts(rowHTML string) []string {
	var out []string
	for _, m := range cellRe.FindAllStringSubmatch(rowHTML, -1) {
		text := strings.TrimSpace(tagRe.ReplaceAllString(m[1], ""))
		out = append(out, text)
	}
	return out
}

func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.ParseFloat(s, 64)
}

func (c *Collector) ValidateData(data interface{}) bool {
	rows, ok := data.([]StatRow)
	if !ok {
		return false
	}
	for _, r := range rows {
		if r.ValueMT < 0 {
			return false
		}
	}
	return true
}

func (c *Collector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	rows, _ := data.([]StatRow)

	records := make([]map[string]interface{}, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id := fmt.Sprintf("%s-%s", r.Period, strings.ReplaceAll(r.Metric, " ", "_"))
		records = append(records, map[string]interface{}{
			"id":       id,
			"period":   r.Period,
			"metric":   r.Metric,
			"value_mt": r.ValueMT,
		})
		ids = append(ids, id)
	}

	return map[string][]collector.SaveBatch{
		"palm_oil_stats": {{
			Table:             "palm_oil_stats",
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

// Register wires the mpob plugin into r.
func Register(r *collector.Registry, cfg collector.Config, archiver *httpcore.Archiver, store collector.Store, log *audit.Log) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, archiver, store, log), nil
	})
}
