package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/collector"
	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/trade"
)

// fakeCollector returns a fixed batch of raw trade records, standing in
// for a real source plugin so this test never makes a network call. Its
// transform step mirrors the real plugins: harmonize each record and
// batch the silver rows.
type fakeCollector struct {
	cfg     collector.Config
	records []trade.RawRecord
	saved   int
}

func (f *fakeCollector) Config() collector.Config { return f.cfg }
func (f *fakeCollector) Authenticate(ctx context.Context) error { return nil }
func (f *fakeCollector) FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*collector.Result, error) {
	return &collector.Result{Success: true, RecordsFetched: len(f.records), Data: f.records}, nil
}
func (f *fakeCollector) ValidateData(data interface{}) bool { return true }
func (f *fakeCollector) TransformData(data interface{}) (map[string][]collector.SaveBatch, error) {
	raw, _ := data.([]trade.RawRecord)
	records := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		h, err := trade.Harmonize(r, testResolver())
		if err != nil {
			continue
		}
		records = append(records, h.SilverRow())
	}
	return map[string][]collector.SaveBatch{
		"silver_trade_flow": {{
			Table:         "silver_trade_flow",
			Records:       records,
			UniqueColumns: trade.SilverKeyColumns(),
		}},
	}, nil
}
func (f *fakeCollector) SaveData(ctx context.Context, batches map[string][]collector.SaveBatch) error {
	for _, tableBatches := range batches {
		for _, b := range tableBatches {
			f.saved += len(b.Records)
		}
	}
	return nil
}

func fob(v float64) *float64 { return &v }

func newTestRegistry(t *testing.T) *collector.Registry {
	t.Helper()
	reg := collector.NewRegistry()
	reg.Register(collector.Config{SourceName: "argentina_trade"}, func(cfg collector.Config) (collector.Collector, error) {
		return &fakeCollector{cfg: cfg, records: []trade.RawRecord{
			{DataSource: "argentina_trade", Reporter: "ARG", Period: "2025-06", HSCode: "120190", Commodity: "soybeans", CountryRaw: "china", Flow: trade.FlowExport, Quantity: 100, QuantityUnit: trade.UnitMT, ValueFOB: fob(40000)},
		}}, nil
	})
	reg.Register(collector.Config{SourceName: "brazil_trade"}, func(cfg collector.Config) (collector.Collector, error) {
		return &fakeCollector{cfg: cfg, records: []trade.RawRecord{
			{DataSource: "brazil_trade", Reporter: "BRA", Period: "2025-06", HSCode: "120190", Commodity: "soybeans", CountryRaw: "china", Flow: trade.FlowExport, Quantity: 50, QuantityUnit: trade.UnitMT, ValueFOB: fob(20000)},
			{DataSource: "brazil_trade", Reporter: "BRA", Period: "2025-06", HSCode: "bad", Commodity: "soybeans", CountryRaw: "china", Flow: trade.FlowExport, Quantity: 1, QuantityUnit: trade.UnitMT, ValueFOB: fob(1)},
		}}, nil
	})
	return reg
}

func testResolver() trade.MapSynonymResolver {
	return trade.MapSynonymResolver{
		"argentina": "ARG",
		"brazil":    "BRA",
		"china":     "CHN",
	}
}

func TestRunMonthlyPipelineAggregatesAcrossCountries(t *testing.T) {
	reg := newTestRegistry(t)
	r := New(reg, testResolver(), &config.Thresholds{BalanceDiscrepancyPct: 0.10}, t.TempDir())

	result, err := r.RunMonthlyPipeline(context.Background(), 2025, 6, []string{"ARG", "BRA"}, []trade.Flow{trade.FlowExport}, false)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, len(result.CountryResults))

	require.Equal(t, 3, result.TotalRecordsFetched)
	require.Equal(t, 2, result.TotalRecordsLoaded, "one brazil record has an unparseable HS code and is dropped")
}

func TestRunMonthlyPipelineUnknownCountryIsNonFatal(t *testing.T) {
	reg := newTestRegistry(t)
	r := New(reg, testResolver(), nil, t.TempDir())

	result, err := r.RunMonthlyPipeline(context.Background(), 2025, 6, []string{"ARG", "ZZZ"}, []trade.Flow{trade.FlowExport}, true)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 1, result.TotalErrors)
}

func TestRunHistoricalBackfillCoversEachMonth(t *testing.T) {
	reg := newTestRegistry(t)
	r := New(reg, testResolver(), nil, t.TempDir())

	results, err := r.RunHistoricalBackfill(context.Background(), 2025, 5, 2025, 7, []string{"ARG"})
	require.NoError(t, err)
	require.Len(t, results, 3)
}
