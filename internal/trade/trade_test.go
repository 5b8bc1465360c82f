package trade

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHS6StripsDotsAndTruncates(t *testing.T) {
	hs6, err := HS6("1005.90.10")
	require.NoError(t, err)
	require.Equal(t, "100590", hs6)
}

func TestHS6RejectsShortCodes(t *testing.T) {
	_, err := HS6("10.5")
	require.Error(t, err)
}

func TestBushelRoundTripWithinOnePPM(t *testing.T) {
	bushels := 1_000_000.0
	mt, err := ToMetricTons(bushels, UnitBushel, "corn")
	require.NoError(t, err)

	backToBushels := mt * bushelFactor["corn"]
	relErr := math.Abs(backToBushels-bushels) / bushels
	require.Less(t, relErr, 1e-6)
}

func TestToMetricTonsFixedFactors(t *testing.T) {
	mt, err := ToMetricTons(1000, UnitKG, "corn")
	require.NoError(t, err)
	require.InDelta(t, 1.0, mt, 1e-9)

	mt, err = ToMetricTons(1, UnitMMT, "corn")
	require.NoError(t, err)
	require.InDelta(t, 1e6, mt, 1e-6)
}

func TestHarmonizeSelectsFOBForExportCIFForImport(t *testing.T) {
	resolver := MapSynonymResolver{"china": "CHN"}
	fob := 250000.0
	r := RawRecord{
		DataSource: "brazil_trade", Reporter: "BRA",
		Period: "2025-06", HSCode: "1201.00", Commodity: "soybeans",
		CountryRaw: "China", Flow: FlowExport,
		Quantity: 1000, QuantityUnit: UnitMT, ValueFOB: &fob,
	}
	h, err := Harmonize(r, resolver)
	require.NoError(t, err)
	require.Equal(t, "BRA", h.Reporter)
	require.Equal(t, "CHN", h.Partner)
	require.Equal(t, "FOB", h.ValueBasis)
	require.Equal(t, 250000.0, h.ValueUSD)
	require.Equal(t, 2025, h.Year)
	require.Equal(t, 6, h.Month)
}

func TestHarmonizeDerivesFullTradeFlowRecord(t *testing.T) {
	resolver := MapSynonymResolver{"china": "CHN"}
	fob := 250000.0
	h, err := Harmonize(RawRecord{
		DataSource: "brazil_trade", Reporter: "BRA",
		Period: "2024-08", HSCode: "10.05.90.10", Commodity: "corn",
		CountryRaw: "China", Flow: FlowExport,
		Quantity: 1_000_000, QuantityUnit: UnitKG, ValueFOB: &fob,
	}, resolver)
	require.NoError(t, err)
	require.Equal(t, "10059010", h.HSCode)
	require.Equal(t, 8, h.HSLevel)
	require.Equal(t, "100590", h.HSCode6)
	require.Equal(t, 1_000_000.0, h.QuantityKG)
	require.InDelta(t, 1000.0, h.QuantityTons, 1e-9)
	require.Equal(t, 250000.0, h.ValueUSD)
}

func TestHarmonizeFailsOnUnknownCountry(t *testing.T) {
	resolver := MapSynonymResolver{}
	fob := 1.0
	_, err := Harmonize(RawRecord{
		Reporter: "ARG", Period: "2025-06",
		HSCode: "120100", CountryRaw: "Atlantis", Flow: FlowExport,
		Quantity: 1, QuantityUnit: UnitMT, ValueFOB: &fob,
	}, resolver)
	require.Error(t, err)
}

func TestHarmonizeFailsWithoutReporter(t *testing.T) {
	fob := 1.0
	_, err := Harmonize(RawRecord{
		Period: "2025-06", HSCode: "120100", CountryRaw: "Atlantis",
		Flow: FlowExport, Quantity: 1, QuantityUnit: UnitMT, ValueFOB: &fob,
	}, MapSynonymResolver{"atlantis": "ATL"})
	require.Error(t, err)
}

func TestBalanceMatrixMergesMirroredReports(t *testing.T) {
	resolver := MapSynonymResolver{"china": "CHN", "brazil": "BRA"}
	fob := 250000.0
	cif := 240000.0

	// Brazil reports its export to China; China reports the mirrored
	// import from Brazil. Both sides must land on one entry.
	brExport, err := Harmonize(RawRecord{
		DataSource: "brazil_trade", Reporter: "BRA", Period: "2025-06",
		HSCode: "120100", CountryRaw: "China", Flow: FlowExport,
		Quantity: 1000, QuantityUnit: UnitMT, ValueFOB: &fob,
	}, resolver)
	require.NoError(t, err)
	cnImport, err := Harmonize(RawRecord{
		DataSource: "china_trade", Reporter: "CHN", Period: "2025-06",
		HSCode: "120100", CountryRaw: "Brazil", Flow: FlowImport,
		Quantity: 950, QuantityUnit: UnitMT, ValueCIF: &cif,
	}, resolver)
	require.NoError(t, err)

	exports := map[BalanceKey]float64{brExport.ExportKey(): brExport.ValueUSD}
	imports := map[BalanceKey]float64{cnImport.ImportKey(): cnImport.ValueUSD}

	entries := BuildBalanceMatrix(exports, imports, 0.10)
	require.Len(t, entries, 1)
	require.Equal(t, "BRA", entries[0].CountryA)
	require.Equal(t, "CHN", entries[0].CountryB)
	require.NotNil(t, entries[0].PctDiff)
	require.InDelta(t, 0.04, *entries[0].PctDiff, 1e-9)
	require.False(t, entries[0].Discrepancy)
}

func TestBalanceMatrixPreservesMissingSideAsNil(t *testing.T) {
	key := BalanceKey{Period: "2025-06", HSCode6: "120100", CountryA: "ARG", CountryB: "USA"}
	exports := map[BalanceKey]float64{key: 100000}

	entries := BuildBalanceMatrix(exports, nil, 0.10)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ExportAtoB)
	require.Nil(t, entries[0].ImportBtoA)
	require.Nil(t, entries[0].PctDiff)
}
