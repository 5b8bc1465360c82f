package model

// confidenceByWeek is the piecewise confidence curve (earlier in the
// season means less confident). Weeks between table keys interpolate
// linearly between the adjacent entries.
var confidenceByWeek = []struct {
	week  int
	value float64
}{
	{10, 0.30}, {15, 0.40}, {18, 0.45}, {20, 0.50}, {22, 0.55}, {24, 0.60},
	{26, 0.70}, {28, 0.75}, {30, 0.80}, {32, 0.85}, {34, 0.88}, {36, 0.90},
	{38, 0.93}, {40, 0.95},
}

// Confidence looks up the week-indexed confidence, interpolating between
// adjacent table weeks and clamping outside [10, 40].
func Confidence(week int) float64 {
	first := confidenceByWeek[0]
	last := confidenceByWeek[len(confidenceByWeek)-1]
	if week <= first.week {
		return first.value
	}
	if week >= last.week {
		return last.value
	}
	for i := 1; i < len(confidenceByWeek); i++ {
		hi := confidenceByWeek[i]
		if week > hi.week {
			continue
		}
		lo := confidenceByWeek[i-1]
		if week == hi.week {
			return hi.value
		}
		frac := float64(week-lo.week) / float64(hi.week-lo.week)
		return lo.value + frac*(hi.value-lo.value)
	}
	return last.value
}

// WidthMultiplier is the prediction-interval width factor.
func WidthMultiplier(confidence float64) float64 {
	return 2.5 - confidence*1.5
}
