package model

import "github.com/harvestline/agriforecast/internal/yield/features"

// PrimaryDriver applies the priority-ordered rule list over
// one week's feature row. The first matching rule wins; "Normal
// conditions" is the default when nothing else fires.
func PrimaryDriver(row features.Row) string {
	switch {
	case row.StressDaysDrought > 7:
		return "Drought stress"
	case row.StressDaysHeat > 5:
		return "Heat stress"
	case row.StressDaysExcessMoisture > 3:
		return "Excess moisture"
	case row.FrostEvents > 0:
		return "Frost damage"
	case row.NASSGoodExcellentPct != nil && *row.NASSGoodExcellentPct >= 70:
		return "Strong crop conditions"
	case row.NASSGoodExcellentPct != nil && *row.NASSGoodExcellentPct < 50:
		return "Poor crop conditions"
	case row.PrecipVsNormalPct != nil && *row.PrecipVsNormalPct < -20:
		return "Below-normal precipitation"
	case row.PrecipVsNormalPct != nil && *row.PrecipVsNormalPct > 20:
		return "Above-normal precipitation"
	default:
		return "Normal conditions"
	}
}
