package orchestrator

import (
	"fmt"
	"math"
	"sort"

	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/trade"
)

// Severity classifies a QualityAlert.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// QualityAlert is one finding from the pipeline's quality validator.
type QualityAlert struct {
	Severity Severity
	Check    string
	Message  string
	Period   string
	HSCode6  string
	Country  string
}

// ValidateQuality runs the schema/range, commodity-sanity, duplicate and
// outlier checks over one pipeline pass's harmonized
// records, in that order, and returns every alert raised (the caller
// truncates to the first maxQualityAlerts). It has no cross-reference
// check: totals are not compared against any per-country or per-flow
// floor.
func ValidateQuality(records []trade.HarmonizedRecord, thresholds *config.Thresholds) []QualityAlert {
	var alerts []QualityAlert

	alerts = append(alerts, checkSchemaAndRange(records)...)
	alerts = append(alerts, checkCommoditySanity(records)...)
	alerts = append(alerts, checkDuplicates(records)...)
	z := 3.0
	if thresholds != nil && thresholds.OutlierZScoreThreshold > 0 {
		z = thresholds.OutlierZScoreThreshold
	}
	alerts = append(alerts, checkOutliers(records, z)...)

	return alerts
}

// checkSchemaAndRange flags records with structurally invalid fields: a
// blank HS6, unresolved country, or a non-positive quantity/value.
func checkSchemaAndRange(records []trade.HarmonizedRecord) []QualityAlert {
	var alerts []QualityAlert
	for _, r := range records {
		if len(r.HSCode6) != 6 {
			alerts = append(alerts, QualityAlert{
				Severity: SeverityFatal, Check: "schema",
				Message: fmt.Sprintf("HS6 code %q is not 6 digits", r.HSCode6),
				Period: r.Period, HSCode6: r.HSCode6, Country: r.Reporter,
			})
		}
		if r.Reporter == "" || r.Partner == "" {
			alerts = append(alerts, QualityAlert{
				Severity: SeverityFatal, Check: "schema",
				Message: "record is missing a resolved reporter or partner country",
				Period: r.Period, HSCode6: r.HSCode6,
			})
		}
		if r.QuantityTons <= 0 {
			alerts = append(alerts, QualityAlert{
				Severity: SeverityWarning, Check: "range",
				Message: fmt.Sprintf("non-positive quantity %.3f MT", r.QuantityTons),
				Period: r.Period, HSCode6: r.HSCode6, Country: r.Reporter,
			})
		}
	}
	return alerts
}

// checkCommoditySanity flags negative trade values, fatal regardless
// of commodity.
func checkCommoditySanity(records []trade.HarmonizedRecord) []QualityAlert {
	var alerts []QualityAlert
	for _, r := range records {
		if r.ValueUSD < 0 {
			alerts = append(alerts, QualityAlert{
				Severity: SeverityFatal, Check: "commodity_sanity",
				Message: fmt.Sprintf("negative trade value %.2f USD", r.ValueUSD),
				Period: r.Period, HSCode6: r.HSCode6, Country: r.Reporter,
			})
		}
	}
	return alerts
}

// checkDuplicates flags more than one record sharing the same
// (period, hs6, reporter/partner, flow) key — the natural identity of a
// trade record once harmonized.
func checkDuplicates(records []trade.HarmonizedRecord) []QualityAlert {
	type key struct {
		period, hs6, country string
		flow                 trade.Flow
	}
	seen := make(map[key]int)
	for _, r := range records {
		seen[key{r.Period, r.HSCode6, r.Reporter + "/" + r.Partner, r.Flow}]++
	}

	var alerts []QualityAlert
	for k, count := range seen {
		if count > 1 {
			alerts = append(alerts, QualityAlert{
				Severity: SeverityWarning, Check: "duplicate",
				Message: fmt.Sprintf("%d duplicate records for this (period, hs6, reporter/partner, flow)", count),
				Period: k.period, HSCode6: k.hs6, Country: k.country,
			})
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Period < alerts[j].Period })
	return alerts
}

// checkOutliers flags records whose value, grouped by (hs6, flow), is
// more than zThreshold standard deviations from the group mean.
func checkOutliers(records []trade.HarmonizedRecord, zThreshold float64) []QualityAlert {
	type key struct {
		hs6  string
		flow trade.Flow
	}
	groups := make(map[key][]trade.HarmonizedRecord)
	for _, r := range records {
		k := key{r.HSCode6, r.Flow}
		groups[k] = append(groups[k], r)
	}

	var alerts []QualityAlert
	for _, group := range groups {
		if len(group) < 4 {
			continue // too few points for a meaningful z-score
		}
		mean, stddev := meanStddev(group)
		if stddev == 0 {
			continue
		}
		for _, r := range group {
			z := math.Abs(r.ValueUSD-mean) / stddev
			if z > zThreshold {
				alerts = append(alerts, QualityAlert{
					Severity: SeverityWarning, Check: "outlier",
					Message: fmt.Sprintf("value %.2f is %.1f standard deviations from the (hs6, flow) group mean", r.ValueUSD, z),
					Period: r.Period, HSCode6: r.HSCode6, Country: r.Reporter,
				})
			}
		}
	}
	return alerts
}

func meanStddev(records []trade.HarmonizedRecord) (float64, float64) {
	n := float64(len(records))
	sum := 0.0
	for _, r := range records {
		sum += r.ValueUSD
	}
	mean := sum / n

	var variance float64
	for _, r := range records {
		d := r.ValueUSD - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
