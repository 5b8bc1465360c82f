// Package epaecho implements the EPA ECHO facility source plugin: the
// two-step query-then-download pattern — issue a search
// that returns a QueryID and row count, then download the CSV keyed by
// that ID, deduplicating across search axes.
package epaecho

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/httpcore"
)

const SourceName = "epa_echo"

// searchAxes are the independent search dimensions ECHO supports; a
// facility can surface under more than one, so fetches dedupe by
// facility ID and record which axis first found each row.
var searchAxes = []string{"p_st", "p_naics", "p_sic"}

type facilityRow struct {
	id        string
	name      string
	state     string
	foundAxis string
	fields    map[string]string
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

func (c *Collector) Authenticate(ctx context.Context) error { return nil }

func (c *Collector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	seen := make(map[string]*facilityRow)

	for _, axis := range searchAxes {
		queryID, rowCount, err := c.query(ctx, axis, params)
		if err != nil {
			return nil, fmt.Errorf("query axis %s: %w", axis, err)
		}
		if rowCount == 0 {
			continue
		}
		rows, err := c.download(ctx, queryID, axis)
		if err != nil {
			return nil, fmt.Errorf("download axis %s: %w", axis, err)
		}
		for _, row := range rows {
			if existing, ok := seen[row.id]; ok {
				existing.fields["also_found_via_"+row.foundAxis] = "true"
				continue
			}
			seen[row.id] = row
		}
	}

	records := make([]*facilityRow, 0, len(seen))
	for _, r := range seen {
		records = append(records, r)
	}

	return &collector.Result{
		Success:        true,
		RecordsFetched: len(records),
		Data:           records,
		PeriodStart:    start,
		PeriodEnd:      end,
	}, nil
}

// query issues the search step and returns the QueryID ECHO assigns plus
// the row count it reports for this axis.
func (c *Collector) query(ctx context.Context, axis string, params map[string]string) (string, int, error) {
	queryParams := map[string]string{"output": "JSON", axis: params[axis]}
	resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL+"/qid", queryParams, nil, nil)
	if err != nil {
		return "", 0, err
	}
	queryID := gjson.GetBytes(resp.Body, "QueryID").String()
	rowCount := int(gjson.GetBytes(resp.Body, "QueryRows").Int())
	return queryID, rowCount, nil
}

// download fetches the CSV for a QueryID and parses it into facility
// rows, each tagged with the search axis that surfaced it.
func (c *Collector) download(ctx context.Context, queryID, axis string) ([]*facilityRow, error) {
	resp, err := c.session.Request(ctx, "GET", c.cfg.SourceURL+"/download", map[string]string{"qid": queryID, "output": "CSV"}, nil, nil)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(string(resp.Body)))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]

	out := make([]*facilityRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		fields := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				fields[col] = row[i]
			}
		}
		out = append(out, &facilityRow{
			id:        fields["RegistryID"],
			name:      fields["FacName"],
			state:     fields["FacState"],
			foundAxis: axis,
			fields:    fields,
		})
	}
	return out, nil
}

func (c *Collector) ValidateData(data interface{}) bool {
	rows, ok := data.([]*facilityRow)
	return ok && len(rows) >= 0
}

func (c *Collector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	rows, _ := data.([]*facilityRow)

	records := make([]map[string]interface{}, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, map[string]interface{}{
			"registry_id":   r.id,
			"name":          r.name,
			"state":         r.state,
			"coverage_axis": r.foundAxis,
		})
		ids = append(ids, r.id)
	}

	return map[string][]collector.SaveBatch{
		"epa_facilities": {{
			Table:             "epa_facilities",
			Records:           records,
			UniqueColumns:     []string{"registry_id"},
			AffectedRecordIDs: ids,
			FacilityName:      firstName(rows),
			SourceEndpoint:    c.cfg.SourceURL,
			VerificationURLFunc: func(recordID string) string {
				return c.cfg.SourceURL + "/facility/" + recordID
			},
		}},
	}, nil
}

func firstName(rows []*facilityRow) string {
	if len(rows) == 0 {
		return ""
	}
	return rows[0].name
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

// Register wires the epa_echo plugin into r.
func Register(r *collector.Registry, cfg collector.Config, cache *collector.Cache, store collector.Store, log *audit.Log) {
	r.Register(cfg, func(cfg collector.Config) (collector.Collector, error) {
		return New(cfg, cache, store, log), nil
	})
}
