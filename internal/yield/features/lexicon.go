package features

import "strings"

// keyword is one lexicon entry: riskWeight feeds ww_risk_score,
// sentimentWeight feeds ww_outlook_sentiment, positive for a favorable
// outlook. The anchor weights (drought/flooding +3 risk, favorable -1
// risk) are extended with
// the small set of opposite-polarity terms a real weather-desk email
// lexicon needs on both axes.
type keyword struct {
	term            string
	riskWeight      float64
	sentimentWeight float64
}

var lexicon = []keyword{
	{"drought", 3, -2},
	{"flooding", 3, -2},
	{"flood", 3, -2},
	{"excessive heat", 2, -1},
	{"frost", 2, -1},
	{"freeze", 2, -1},
	{"dry", 1, -1},
	{"stress", 1, -1},
	{"favorable", -1, 2},
	{"beneficial rain", -1, 2},
	{"timely rain", -1, 2},
	{"improving", -1, 1},
	{"normal", 0, 1},
}

// tallyEmail scores one email body against the lexicon, case-insensitive.
func tallyEmail(body string) (risk, sentiment float64) {
	lower := strings.ToLower(body)
	for _, kw := range lexicon {
		count := strings.Count(lower, kw.term)
		if count == 0 {
			continue
		}
		risk += kw.riskWeight * float64(count)
		sentiment += kw.sentimentWeight * float64(count)
	}
	return risk, sentiment
}

// clip bounds v to [lo, hi].
func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
