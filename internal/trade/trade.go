// Package trade implements the trade harmonizer: it normalizes the
// South-American collectors' and the Census collector's raw trade
// records into the common silver_trade_flow shape (HS6, metric tons,
// USD, ISO-3 reporter and partner) and builds the reporter/partner
// balance matrix used to flag discrepancies.
package trade

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Flow is the trade direction of a record.
type Flow string

const (
	FlowExport Flow = "export"
	FlowImport Flow = "import"
)

// Unit is the raw quantity unit a source reports in.
type Unit string

const (
	UnitKG         Unit = "kg"
	UnitMT         Unit = "mt"
	UnitThousandMT Unit = "thousand_mt"
	UnitMMT        Unit = "mmt"
	UnitBushel     Unit = "bushel"
)

// unitToMT are the fixed conversion factors for
// non-commodity-specific units.
var unitToMT = map[Unit]float64{
	UnitKG:         1e-3,
	UnitMT:         1,
	UnitThousandMT: 1e3,
	UnitMMT:        1e6,
}

// bushelFactor maps a commodity to its bushels-per-metric-ton divisor:
// corn 39.368, soy 36.744, wheat 36.744.
var bushelFactor = map[string]float64{
	"corn":     39.368,
	"soybeans": 36.744,
	"soy":      36.744,
	"wheat":    36.744,
}

// RawRecord is one trade record as a source plugin emits it, before
// harmonization. Reporter is the publishing country's ISO-3 code — the
// plugin knows which national statistics office it fetched from —
// while CountryRaw is the free-text trading partner the source prints.
type RawRecord struct {
	DataSource    string // registered source name, e.g. "brazil_trade"
	Reporter      string // reporting country ISO-3
	Period        string // e.g. "2025-06"
	HSCode        string // raw, may contain dots
	Commodity     string // lowercase commodity name, used for bushel conversion
	CountryRaw    string // partner country as published (free text)
	Flow          Flow
	Quantity      float64
	QuantityUnit  Unit
	ValueFOB      *float64 // USD, may be absent
	ValueCIF      *float64 // USD, may be absent
	StateRegion   string   // optional sub-national origin/destination
	CustomsOffice string   // optional
	HSDescription string   // optional
}

// HarmonizedRecord is RawRecord normalized into the full
// silver_trade_flow row: dots stripped from the HS code, HS6 derived,
// quantities in both kg and metric tons, the partner resolved to ISO-3,
// and the authoritative value chosen by flow.
type HarmonizedRecord struct {
	DataSource    string
	Reporter      string
	Flow          Flow
	Year          int
	Month         int
	Period        string
	HSCode        string // dots stripped
	HSLevel       int
	HSCode6       string
	Partner       string // ISO-3
	StateRegion   string
	QuantityKG    float64
	QuantityTons  float64
	ValueUSD      float64
	ValueFOB      *float64
	ValueCIF      *float64
	ValueBasis    string // "FOB" or "CIF"
	HSDescription string
	CustomsOffice string
}

// SynonymResolver maps a free-text country name to an ISO-3 code.
type SynonymResolver interface {
	Resolve(countryRaw string) (iso3 string, ok bool)
}

// MapSynonymResolver is a SynonymResolver backed by a plain map
// (internal/config.Synonyms.CountryToISO3), matched case-insensitively.
type MapSynonymResolver map[string]string

func (m MapSynonymResolver) Resolve(countryRaw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(countryRaw))
	iso3, ok := m[key]
	return iso3, ok
}

// StripHSCode removes dots and surrounding whitespace from a raw HS
// code: "10.05.90.10" becomes "10059010".
func StripHSCode(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, ".", ""))
}

// HS6 derives the canonical 6-digit HS stem from a raw HS code:
// strip dots, then take the first 6 digits.
func HS6(raw string) (string, error) {
	stripped := StripHSCode(raw)
	if len(stripped) < 6 {
		return "", fmt.Errorf("HS code %q too short to derive HS6", raw)
	}
	return stripped[:6], nil
}

// ToMetricTons converts a quantity to metric tons. Bushels require a
// commodity-specific factor.
func ToMetricTons(qty float64, unit Unit, commodity string) (float64, error) {
	if unit == UnitBushel {
		factor, ok := bushelFactor[strings.ToLower(commodity)]
		if !ok {
			return 0, fmt.Errorf("no bushel conversion factor for commodity %q", commodity)
		}
		return qty / factor, nil
	}
	factor, ok := unitToMT[unit]
	if !ok {
		return 0, fmt.Errorf("unknown quantity unit %q", unit)
	}
	return qty * factor, nil
}

// parsePeriod splits "2025-06" into (2025, 6).
func parsePeriod(period string) (int, int, error) {
	parts := strings.SplitN(period, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("period %q is not YYYY-MM", period)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("period %q is not YYYY-MM", period)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("period %q is not YYYY-MM", period)
	}
	return year, month, nil
}

// Harmonize normalizes one RawRecord into a HarmonizedRecord.
func Harmonize(r RawRecord, resolver SynonymResolver) (*HarmonizedRecord, error) {
	if r.Reporter == "" {
		return nil, fmt.Errorf("record has no reporting country")
	}

	stripped := StripHSCode(r.HSCode)
	hs6, err := HS6(r.HSCode)
	if err != nil {
		return nil, err
	}

	partner, ok := resolver.Resolve(r.CountryRaw)
	if !ok {
		return nil, fmt.Errorf("no ISO-3 mapping for country %q", r.CountryRaw)
	}

	year, month, err := parsePeriod(r.Period)
	if err != nil {
		return nil, err
	}

	tons, err := ToMetricTons(r.Quantity, r.QuantityUnit, r.Commodity)
	if err != nil {
		return nil, err
	}
	kg := tons * 1000
	if r.QuantityUnit == UnitKG {
		kg = r.Quantity
	}

	value, basis, err := selectValue(r)
	if err != nil {
		return nil, err
	}

	return &HarmonizedRecord{
		DataSource:    r.DataSource,
		Reporter:      r.Reporter,
		Flow:          r.Flow,
		Year:          year,
		Month:         month,
		Period:        r.Period,
		HSCode:        stripped,
		HSLevel:       len(stripped),
		HSCode6:       hs6,
		Partner:       partner,
		StateRegion:   r.StateRegion,
		QuantityKG:    kg,
		QuantityTons:  tons,
		ValueUSD:      value,
		ValueFOB:      r.ValueFOB,
		ValueCIF:      r.ValueCIF,
		ValueBasis:    basis,
		HSDescription: r.HSDescription,
		CustomsOffice: r.CustomsOffice,
	}, nil
}

// SilverRow is h as a silver_trade_flow column map, ready for the save
// step's generic upsert.
func (h *HarmonizedRecord) SilverRow() map[string]interface{} {
	return map[string]interface{}{
		"data_source":      h.DataSource,
		"reporter_country": h.Reporter,
		"flow":             string(h.Flow),
		"year":             h.Year,
		"month":            h.Month,
		"period":           h.Period,
		"hs_code":          h.HSCode,
		"hs_level":         h.HSLevel,
		"hs_code_6":        h.HSCode6,
		"partner_country":  h.Partner,
		"state_region":     h.StateRegion,
		"quantity_kg":      h.QuantityKG,
		"quantity_tons":    h.QuantityTons,
		"value_usd":        h.ValueUSD,
		"value_fob_usd":    h.ValueFOB,
		"value_cif_usd":    h.ValueCIF,
	}
}

// SilverKeyColumns are silver_trade_flow's declared unique columns, in
// primary-key order.
func SilverKeyColumns() []string {
	return []string{"data_source", "reporter_country", "flow", "year", "month", "hs_code", "partner_country", "state_region"}
}

// selectValue picks the value basis per flow: exports use FOB, imports
// use CIF falling back to FOB.
func selectValue(r RawRecord) (float64, string, error) {
	if r.Flow == FlowExport {
		if r.ValueFOB != nil {
			return *r.ValueFOB, "FOB", nil
		}
		return 0, "", fmt.Errorf("export record missing FOB value")
	}
	if r.ValueCIF != nil {
		return *r.ValueCIF, "CIF", nil
	}
	if r.ValueFOB != nil {
		return *r.ValueFOB, "FOB", nil
	}
	return 0, "", fmt.Errorf("import record missing both CIF and FOB values")
}

// BalanceKey groups harmonized records for the balance matrix:
// CountryA is the exporting side, CountryB the importing side.
type BalanceKey struct {
	Period   string
	HSCode6  string
	CountryA string
	CountryB string
}

// ExportKey keys an export record: the reporter is the exporter, the
// partner the importer.
func (h *HarmonizedRecord) ExportKey() BalanceKey {
	return BalanceKey{Period: h.Period, HSCode6: h.HSCode6, CountryA: h.Reporter, CountryB: h.Partner}
}

// ImportKey keys an import record onto the same (exporter, importer)
// axis as the mirrored export: the partner is the exporter, the
// reporter the importer.
func (h *HarmonizedRecord) ImportKey() BalanceKey {
	return BalanceKey{Period: h.Period, HSCode6: h.HSCode6, CountryA: h.Partner, CountryB: h.Reporter}
}

// BalanceMatrixEntry is one reporter/partner comparison: A's exports to
// B vs. B's imports from A. Either side may be nil if one reporter
// didn't publish that flow.
type BalanceMatrixEntry struct {
	BalanceKey
	ExportAtoB  *float64 // eAB, USD
	ImportBtoA  *float64 // iBA, USD
	AbsDiff     *float64
	PctDiff     *float64
	Discrepancy bool
}

const epsilon = 1e-9

// BuildBalanceMatrix groups harmonized records into per-(period, hs6,
// exporter, importer) entries and flags pct_diff > threshold
// discrepancies. exports and imports are keyed on the same
// (exporter, importer) axis — use ExportKey/ImportKey so the two sides
// of one bilateral flow land on the same key.
func BuildBalanceMatrix(exports map[BalanceKey]float64, imports map[BalanceKey]float64, threshold float64) []BalanceMatrixEntry {
	keys := make(map[BalanceKey]struct{})
	for k := range exports {
		keys[k] = struct{}{}
	}
	for k := range imports {
		keys[k] = struct{}{}
	}

	entries := make([]BalanceMatrixEntry, 0, len(keys))
	for k := range keys {
		entry := BalanceMatrixEntry{BalanceKey: k}
		if v, ok := exports[k]; ok {
			vv := v
			entry.ExportAtoB = &vv
		}
		if v, ok := imports[k]; ok {
			vv := v
			entry.ImportBtoA = &vv
		}
		if entry.ExportAtoB != nil && entry.ImportBtoA != nil {
			absDiff := math.Abs(*entry.ExportAtoB - *entry.ImportBtoA)
			denom := math.Max(math.Max(*entry.ExportAtoB, *entry.ImportBtoA), epsilon)
			pctDiff := absDiff / denom
			entry.AbsDiff = &absDiff
			entry.PctDiff = &pctDiff
			entry.Discrepancy = pctDiff > threshold
		}
		entries = append(entries, entry)
	}
	return entries
}
