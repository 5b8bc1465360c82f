package features

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harvestline/agriforecast/internal/config"
)

const FeatureVersion = "v1"

// Writer persists one composite feature row.
type Writer interface {
	UpsertFeature(ctx context.Context, row Row) error
}

// Engine builds yield feature rows from bronze-layer readings.
type Engine struct {
	reader       Reader
	writer       Writer
	thresholds   *config.Thresholds
	growthStages map[string][]config.GrowthStageWindow
}

// New builds a feature Engine.
func New(reader Reader, writer Writer, thresholds *config.Thresholds, growthStages map[string][]config.GrowthStageWindow) *Engine {
	return &Engine{reader: reader, writer: writer, thresholds: thresholds, growthStages: growthStages}
}

// BuildFeatures is the build_features: iterate
// [weekStart, weekEnd] and upsert one row per week.
func (e *Engine) BuildFeatures(ctx context.Context, state, crop string, year, weekStart, weekEnd int) ([]Row, error) {
	cropCfg, ok := e.thresholds.Crops[crop]
	if !ok {
		return nil, fmt.Errorf("features: no threshold config for crop %q", crop)
	}
	planting := PlantingDate(year, cropCfg.PlantingMonth, cropCfg.PlantingDay)

	rows := make([]Row, 0, weekEnd-weekStart+1)
	for week := weekStart; week <= weekEnd; week++ {
		row, err := e.buildOneWeek(ctx, state, crop, year, week, planting, cropCfg)
		if err != nil {
			return rows, fmt.Errorf("features: %s/%s year %d week %d: %w", state, crop, year, week, err)
		}
		if err := e.writer.UpsertFeature(ctx, *row); err != nil {
			return rows, fmt.Errorf("features: upsert %s/%s year %d week %d: %w", state, crop, year, week, err)
		}
		rows = append(rows, *row)
	}
	return rows, nil
}

// BuildAllFeatures is the build_all_features: discover which
// states grow each crop from the historical yield table, then fan out
// BuildFeatures over the full season for each.
func (e *Engine) BuildAllFeatures(ctx context.Context, year int, crops []string) (int, error) {
	if len(crops) == 0 {
		for c := range e.thresholds.Crops {
			crops = append(crops, c)
		}
		sort.Strings(crops)
	}

	total := 0
	for _, crop := range crops {
		states, err := e.reader.StatesGrowingCrop(ctx, crop)
		if err != nil {
			return total, fmt.Errorf("features: discover states for %q: %w", crop, err)
		}
		for _, state := range states {
			rows, err := e.BuildFeatures(ctx, state, crop, year, 1, 52)
			if err != nil {
				return total, err
			}
			total += len(rows)
		}
	}
	return total, nil
}

func (e *Engine) buildOneWeek(ctx context.Context, state, crop string, year, week int, planting time.Time, cropCfg config.CropThresholds) (*Row, error) {
	weekEnding := WeekEnding(year, week)
	weekStart := weekEnding.AddDate(0, 0, -6)

	row := &Row{State: state, Crop: crop, Year: year, Week: week, FeatureVersion: FeatureVersion}

	if err := e.applyWeather(ctx, row, state, planting, weekStart, weekEnding, cropCfg); err != nil {
		return nil, err
	}
	if err := e.applyCPC(ctx, row, crop, weekEnding); err != nil {
		return nil, err
	}
	if err := e.applyNASS(ctx, row, state, crop, weekEnding); err != nil {
		return nil, err
	}
	if err := e.applyNDVI(ctx, row, state, weekEnding); err != nil {
		return nil, err
	}
	if err := e.applyWorldWeather(ctx, row, weekStart, weekEnding); err != nil {
		return nil, err
	}
	row.GrowthStage = growthStage(e.growthStages[crop], weekEnding)

	return row, nil
}

func (e *Engine) applyWeather(ctx context.Context, row *Row, state string, planting, weekStart, weekEnding time.Time, cropCfg config.CropThresholds) error {
	cumulative, err := e.reader.WeatherDaily(ctx, state, planting, weekEnding)
	if err != nil {
		return fmt.Errorf("weather cumulative: %w", err)
	}
	weekly, err := e.reader.WeatherDaily(ctx, state, weekStart, weekEnding)
	if err != nil {
		return fmt.Errorf("weather weekly: %w", err)
	}

	for _, d := range cumulative {
		if d.TmaxF != nil && d.TminF != nil {
			row.GDDCumulative += dailyGDD(*d.TminF, *d.TmaxF, cropCfg.GDDBase, cropCfg.GDDCap)
		}
		if d.PrecipMM != nil {
			row.PrecipCumulativeMM += *d.PrecipMM
		}
	}

	var tmaxSum, tminSum float64
	var tmaxN, tminN int
	dryStreak, maxDryStreak := 0, 0
	for _, d := range weekly {
		if d.PrecipMM != nil {
			row.PrecipWeeklyMM += *d.PrecipMM
			if *d.PrecipMM < 1.0 {
				dryStreak++
				if dryStreak > maxDryStreak {
					maxDryStreak = dryStreak
				}
			} else {
				dryStreak = 0
			}
			if cropCfg.ExcessMoistureMMWeek > 0 && *d.PrecipMM > cropCfg.ExcessMoistureMMWeek/7 {
				row.StressDaysExcessMoisture++
			}
		}
		if d.TmaxF != nil {
			tmaxSum += *d.TmaxF
			tmaxN++
			if cropCfg.HeatThresholdF > 0 && *d.TmaxF > cropCfg.HeatThresholdF {
				row.StressDaysHeat++
			}
		}
		if d.TminF != nil {
			tminSum += *d.TminF
			tminN++
			if cropCfg.FrostThresholdF > 0 && *d.TminF < cropCfg.FrostThresholdF {
				row.StressDaysFrost++
			}
		}
	}
	row.StressDaysDrought = maxDryStreak

	for _, d := range cumulative {
		if d.TminF != nil && cropCfg.FrostThresholdF > 0 && *d.TminF < cropCfg.FrostThresholdF {
			row.FrostEvents++
		}
	}

	if tmaxN > 0 {
		row.TmaxWeeklyAvgF = tmaxSum / float64(tmaxN)
	}
	if tminN > 0 {
		row.TminWeeklyAvgF = tminSum / float64(tminN)
	}
	if tmaxN > 0 && tminN > 0 {
		row.TavgWeeklyAvgF = (row.TmaxWeeklyAvgF + row.TminWeeklyAvgF) / 2
	}

	clim, err := e.reader.Climatology(ctx, state, row.Week)
	if err != nil {
		return fmt.Errorf("climatology: %w", err)
	}
	if clim != nil {
		if clim.GDDNormal > 0 {
			pct := (row.GDDCumulative/clim.GDDNormal - 1) * 100
			row.GDDVsNormalPct = &pct
		}
		if clim.PrecipNormalMM > 0 {
			pct := (row.PrecipCumulativeMM/clim.PrecipNormalMM - 1) * 100
			row.PrecipVsNormalPct = &pct
		}
	}
	return nil
}

// dailyGDD is the growing-degree-day formula.
func dailyGDD(tminF, tmaxF, base, cap float64) float64 {
	cappedMax := tmaxF
	if cap > 0 && cappedMax > cap {
		cappedMax = cap
	}
	gdd := (tminF+cappedMax)/2 - base
	if gdd < 0 {
		return 0
	}
	return gdd
}

func (e *Engine) applyCPC(ctx context.Context, row *Row, crop string, weekEnding time.Time) error {
	rows, err := e.reader.NationalCropCondition(ctx, crop, weekEnding)
	if err != nil {
		return fmt.Errorf("cpc national: %w", err)
	}
	mean, ok := conditionMean(rows)
	if ok {
		row.CPCConditionMean = &mean
	}
	progress, ok := progressMean(rows)
	if ok {
		row.CPCProgressMean = &progress
	}

	priorWeekEnding := weekEnding.AddDate(-5, 0, 0)
	priorRows, err := e.reader.NationalCropCondition(ctx, crop, priorWeekEnding)
	if err != nil {
		return fmt.Errorf("cpc national 5yr-ago: %w", err)
	}
	if priorMean, ok := conditionMean(priorRows); ok && row.CPCConditionMean != nil {
		delta := *row.CPCConditionMean - priorMean
		row.CPCConditionDelta5yr = &delta
	}
	if priorProgress, ok := progressMean(priorRows); ok && row.CPCProgressMean != nil {
		delta := *row.CPCProgressMean - priorProgress
		row.CPCProgressVs5yrAvg = &delta
	}
	return nil
}

func (e *Engine) applyNASS(ctx context.Context, row *Row, state, crop string, weekEnding time.Time) error {
	cond, err := e.reader.StateCropCondition(ctx, state, crop, weekEnding)
	if err != nil {
		return fmt.Errorf("nass state condition: %w", err)
	}
	if cond == nil {
		return nil
	}
	row.NASSGoodExcellentPct = cond.GoodExcellentPct
	row.NASSProgressPct = cond.ProgressPct
	return nil
}

// ndviStaleDays is the Open Question decision (DESIGN.md): NDVI older
// than this is treated as absent.
const ndviStaleDays = 15

func (e *Engine) applyNDVI(ctx context.Context, row *Row, state string, weekEnding time.Time) error {
	obs, err := e.reader.NDVI(ctx, state, weekEnding, 10)
	if err != nil {
		return fmt.Errorf("ndvi: %w", err)
	}
	if len(obs) == 0 {
		return nil
	}
	latest := obs[0]
	if weekEnding.Sub(latest.Date) > ndviStaleDays*24*time.Hour {
		return nil
	}
	value := latest.Value
	row.NDVIValue = &value

	slopeObs, err := e.reader.NDVI(ctx, state, weekEnding, 28)
	if err != nil {
		return fmt.Errorf("ndvi 4wk: %w", err)
	}
	if len(slopeObs) >= 2 {
		slope := linearSlope(slopeObs)
		row.NDVISlope4wk = &slope

		var sum float64
		for _, o := range slopeObs {
			sum += o.Value
		}
		anomaly := value - sum/float64(len(slopeObs))
		row.NDVIAnomaly = &anomaly
	}
	return nil
}

func (e *Engine) applyWorldWeather(ctx context.Context, row *Row, weekStart, weekEnding time.Time) error {
	bodies, err := e.reader.WorldWeatherEmailBodies(ctx, weekStart, weekEnding)
	if err != nil {
		return fmt.Errorf("world weather emails: %w", err)
	}
	if len(bodies) == 0 {
		return nil
	}
	var tallyRisk, tallySentiment float64
	for _, body := range bodies {
		r, s := tallyEmail(body)
		tallyRisk += r
		tallySentiment += s
	}
	n := float64(len(bodies))
	row.WWRiskScore = clip(tallyRisk/n, 0, 10)
	row.WWOutlookSentiment = clip(tallySentiment/3/n, -1, 1)
	return nil
}

func conditionMean(rows []ConditionRow) (float64, bool) {
	var sum float64
	var n int
	for _, r := range rows {
		if r.GoodExcellentPct != nil {
			sum += *r.GoodExcellentPct
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func progressMean(rows []ConditionRow) (float64, bool) {
	var sum float64
	var n int
	for _, r := range rows {
		if r.ProgressPct != nil {
			sum += *r.ProgressPct
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// linearSlope fits a least-squares line against day-index vs NDVI value
// and returns the slope, for the 4-week NDVI trend.
func linearSlope(obs []NDVIObs) float64 {
	n := float64(len(obs))
	var sumX, sumY, sumXY, sumXX float64
	base := obs[len(obs)-1].Date
	for _, o := range obs {
		x := o.Date.Sub(base).Hours() / 24
		y := o.Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// growthStage maps weekEnding against the crop's calendar windows,
// picking the latest window whose start falls on or before weekEnding
// within the same year, wrapping to the last (i.e. prior season's final)
// window if weekEnding precedes every configured start.
func growthStage(windows []config.GrowthStageWindow, weekEnding time.Time) string {
	if len(windows) == 0 {
		return ""
	}
	sorted := make([]config.GrowthStageWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartMonth != sorted[j].StartMonth {
			return sorted[i].StartMonth < sorted[j].StartMonth
		}
		return sorted[i].StartDay < sorted[j].StartDay
	})

	best := sorted[len(sorted)-1]
	for _, w := range sorted {
		start := time.Date(weekEnding.Year(), time.Month(w.StartMonth), w.StartDay, 0, 0, 0, 0, time.UTC)
		if !start.After(weekEnding) {
			best = w
		}
	}
	return best.Stage
}
