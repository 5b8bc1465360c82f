package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/yield/features"
)

// Ensemble is one (crop, state) model: a fitted trend line plus the
// three sub-models, blended by a growth-stage-indexed weight table
//.
type Ensemble struct {
	Crop    string
	State   string
	Trend   Trend
	A       ModelA
	B       ModelB
	C       ModelC
	Weights *config.EnsembleWeights
	CVRMSE  float64
}

// Train fits all three sub-models and runs leave-one-year-out CV to
// establish CVRMSE for the prediction interval.
func Train(crop, state string, examples []Example, weights *config.EnsembleWeights, rng *rand.Rand) (*Ensemble, error) {
	ens, err := fitEnsemble(crop, state, examples, weights, rng)
	if err != nil {
		return nil, err
	}
	ens.CVRMSE = leaveOneYearOutRMSE(examples, weights, rng)
	return ens, nil
}

// fitEnsemble fits the trend line and all three sub-models without
// running cross-validation, so leaveOneYearOutRMSE can call it once per
// held-out year without recursing into Train's own CV pass.
func fitEnsemble(crop, state string, examples []Example, weights *config.EnsembleWeights, rng *rand.Rand) (*Ensemble, error) {
	if len(examples) < 3 {
		return nil, fmt.Errorf("model: need at least 3 training examples for %s/%s, got %d", crop, state, len(examples))
	}

	years := make([]int, len(examples))
	actuals := make([]float64, len(examples))
	interpretable := make([][]float64, len(examples))
	full := make([][]float64, len(examples))
	for i, ex := range examples {
		years[i] = ex.Year
		actuals[i] = ex.ActualYield
		interpretable[i] = InterpretableFeatures(ex.Row)
		full[i] = FullFeatures(ex.Row)
	}

	trend := FitTrend(years, actuals)
	deviations := make([]float64, len(examples))
	for i := range examples {
		deviations[i] = trend.Deviation(years[i], actuals[i])
	}

	a, err := FitModelA(interpretable, deviations)
	if err != nil {
		return nil, err
	}
	b := FitModelB(full, deviations, DefaultGBMParams(len(examples)), rng)
	c := FitModelC(years, interpretable, deviations)

	return &Ensemble{Crop: crop, State: state, Trend: trend, A: a, B: b, C: c, Weights: weights}, nil
}

// leaveOneYearOutRMSE refits the ensemble (sub-models only, no nested
// CV) holding out each year in turn and measures RMSE of the blended
// absolute-yield prediction against the held-out actual.
func leaveOneYearOutRMSE(examples []Example, weights *config.EnsembleWeights, rng *rand.Rand) float64 {
	if len(examples) < 4 {
		return 0
	}
	var sumSq float64
	var n int
	for holdoutIdx := range examples {
		train := make([]Example, 0, len(examples)-1)
		for i, ex := range examples {
			if i != holdoutIdx {
				train = append(train, ex)
			}
		}
		held := examples[holdoutIdx]
		ens, err := fitEnsemble(held.Row.Crop, held.Row.State, train, weights, rng)
		if err != nil {
			continue
		}
		pred := ens.Predict(held.Year, held.Week, held.Row)
		d := pred.YieldForecast - held.ActualYield
		sumSq += d * d
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(n))
}

// Forecast is one prediction, matching gold_yield_forecast's shape.
type Forecast struct {
	Crop                  string
	State                 string
	Year                  int
	ForecastWeek          int
	YieldForecast         float64
	YieldLow              float64
	YieldHigh             float64
	TrendYield            float64
	VsTrendPct            float64
	ModelType             string
	Confidence            float64
	PrimaryDriver         string
	AnalogYears           []int
}

// Predict blends the three sub-models by growth-stage weight and builds
// the prediction interval and primary driver.
func (e *Ensemble) Predict(year, week int, row features.Row) Forecast {
	interp := InterpretableFeatures(row)
	full := FullFeatures(row)

	devA := e.A.Predict(interp)
	devB := e.B.Predict(full)
	devC, analogYears := e.C.Predict(year, interp)

	wA, wB, wC := 1.0/3, 1.0/3, 1.0/3
	if e.Weights != nil {
		if byStage, ok := e.Weights.Crops[e.Crop]; ok {
			if w, ok := byStage[row.GrowthStage]; ok {
				wA, wB, wC = w.Trend, w.GBM, w.Analog
			}
		}
	}

	deviation := wA*devA + wB*devB + wC*devC
	trendYield := e.Trend.Predict(year)
	forecastYield := trendYield + deviation

	confidence := Confidence(week)
	width := WidthMultiplier(confidence) * e.CVRMSE

	vsTrendPct := 0.0
	if trendYield != 0 {
		vsTrendPct = (forecastYield/trendYield - 1) * 100
	}

	return Forecast{
		Crop: e.Crop, State: e.State, Year: year, ForecastWeek: week,
		YieldForecast: forecastYield,
		YieldLow:      forecastYield - width,
		YieldHigh:     forecastYield + width,
		TrendYield:    trendYield,
		VsTrendPct:    vsTrendPct,
		ModelType:     "ensemble",
		Confidence:    confidence,
		PrimaryDriver: PrimaryDriver(row),
		AnalogYears:   analogYears,
	}
}
