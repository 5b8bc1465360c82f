package postgres

import (
	"context"
	"time"

	yieldorch "github.com/harvestline/agriforecast/internal/yield/orchestrator"
)

// YieldReader doubles as the weekly pass's store: the forecast/actual
// accessors live on the reader itself and the run-level bookkeeping
// delegates to the underlying Store.
var _ yieldorch.Store = (*YieldReader)(nil)
var _ yieldorch.StateDiscoverer = (*YieldReader)(nil)

func (y *YieldReader) Freshness(ctx context.Context) (map[string]*time.Time, error) {
	return y.db.Freshness(ctx)
}

func (y *YieldReader) SaveModelRun(ctx context.Context, runID, modelVersion, modelType string, crops []string, forecastWeek, featureCount int, durationSec float64) error {
	return y.db.SaveModelRun(ctx, ModelRun{
		RunID:          runID,
		ModelVersion:   modelVersion,
		ModelType:      modelType,
		CropsProcessed: crops,
		ForecastWeek:   forecastWeek,
		FeatureCount:   featureCount,
		DurationSec:    durationSec,
	})
}
