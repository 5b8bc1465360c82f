package collector

import (
	"fmt"
	"math/rand"

	"github.com/PaesslerAG/jsonpath"

	"github.com/harvestline/agriforecast/internal/audit"
)

// Mode selects which DATA_SAVE/DATA_UPDATE targets a verification run
// checks.
type Mode string

const (
	ModeFull   Mode = "full"
	ModeSample Mode = "sample"
)

// Severity classifies a field mismatch.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// VerificationTarget is one record pulled from a DATA_SAVE/DATA_UPDATE
// audit line, materialized for re-fetch and comparison.
type VerificationTarget struct {
	RecordID        string
	FacilityName    string
	SavedValues     map[string]interface{}
	VerificationURL string
}

// Mismatch is one field whose saved value disagrees with a fresh fetch.
type Mismatch struct {
	Field    string
	Saved    interface{}
	Fresh    interface{}
	Severity Severity
}

// RecordResult is the outcome of verifying one target.
type RecordResult struct {
	Target    VerificationTarget
	Mismatches []Mismatch
	Unavailable bool // the upstream source could not be reached for this target
}

// Fetcher re-fetches the fresh value for a verification URL, returning a
// flat field->value map the same shape as SavedValues.
type Fetcher func(verificationURL string) (map[string]interface{}, error)

// SeverityRules maps a field name to its mismatch severity; unmatched
// fields default to LOW.
type SeverityRules map[string]Severity

func (s SeverityRules) severityFor(field string) Severity {
	if sev, ok := s[field]; ok {
		return sev
	}
	return SeverityLow
}

// TargetsFromLog extracts every DATA_SAVE/DATA_UPDATE entry from an
// audit log as verification targets.
func TargetsFromLog(path string) ([]VerificationTarget, error) {
	records, _, err := audit.ReadAll(path)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	var targets []VerificationTarget
	for _, r := range records {
		if r.Action != audit.ActionDataSave && r.Action != audit.ActionDataUpdate {
			continue
		}
		ids, _ := r.Details["affected_record_ids"].([]interface{})
		newValues, _ := r.Details["new_values"].(map[string]interface{})
		verURL, _ := r.Details["verification_url"].(string)
		facility, _ := r.Details["facility_name"].(string)

		recordID := ""
		if len(ids) > 0 {
			if s, ok := ids[0].(string); ok {
				recordID = s
			}
		}
		targets = append(targets, VerificationTarget{
			RecordID:        recordID,
			FacilityName:    facility,
			SavedValues:     newValues,
			VerificationURL: verURL,
		})
	}
	return targets, nil
}

// SelectTargets applies the mode gate: full
// selects everything, sample selects samplePercentage% with a floor of
// one target.
func SelectTargets(targets []VerificationTarget, mode Mode, samplePercentage float64, rng *rand.Rand) []VerificationTarget {
	if mode == ModeFull || len(targets) == 0 {
		return targets
	}
	n := int(float64(len(targets)) * samplePercentage / 100.0)
	if n < 1 {
		n = 1
	}
	if n >= len(targets) {
		return targets
	}
	shuffled := append([]VerificationTarget(nil), targets...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// Verify re-fetches each target and compares saved vs fresh field-by-field
//. Fields where either side is empty are
// skipped, treated as "not provided this run".
func Verify(targets []VerificationTarget, fetch Fetcher, rules SeverityRules) []RecordResult {
	results := make([]RecordResult, 0, len(targets))
	for _, target := range targets {
		fresh, err := fetch(target.VerificationURL)
		if err != nil {
			results = append(results, RecordResult{Target: target, Unavailable: true})
			continue
		}

		var mismatches []Mismatch
		for field, saved := range target.SavedValues {
			if isEmpty(saved) {
				continue
			}
			freshVal, err := jsonpath.Get("$."+field, fresh)
			if err != nil || isEmpty(freshVal) {
				continue
			}
			if !equalValues(saved, freshVal) {
				mismatches = append(mismatches, Mismatch{
					Field:    field,
					Saved:    saved,
					Fresh:    freshVal,
					Severity: rules.severityFor(field),
				})
			}
		}
		results = append(results, RecordResult{Target: target, Mismatches: mismatches})
	}
	return results
}

// LogResults emits one VERIFICATION_RESULT line per record between the
// VERIFICATION_START and summarizing SHUTDOWN lines.
func LogResults(log *audit.Log, mode Mode, results []RecordResult) error {
	if err := log.VerificationStart(map[string]interface{}{"mode": mode, "target_count": len(results)}); err != nil {
		return err
	}

	matched, mismatched, unavailable := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Unavailable:
			unavailable++
			if err := log.VerificationResult(map[string]interface{}{
				"record_id": r.Target.RecordID,
				"result":    "source_unavailable",
			}); err != nil {
				return err
			}
		case len(r.Mismatches) == 0:
			matched++
			if err := log.VerificationResult(map[string]interface{}{
				"record_id": r.Target.RecordID,
				"result":    "match",
			}); err != nil {
				return err
			}
		default:
			mismatched++
			if err := log.VerificationResult(map[string]interface{}{
				"record_id": r.Target.RecordID,
				"result":    "mismatch",
				"mismatches": r.Mismatches,
			}); err != nil {
				return err
			}
		}
	}

	return log.Shutdown(string(StatusSuccess), map[string]interface{}{
		"matched":     matched,
		"mismatched":  mismatched,
		"unavailable": unavailable,
	})
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func equalValues(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
