package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// ReadAll reads every JSON-lines record from an audit log file. Malformed
// lines are skipped with their index reported in the returned skipped
// slice rather than aborting the whole read, matching the "parse failure:
// skip, continue" policy.
func ReadAll(path string) (records []Record, skipped []int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	idx := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			idx++
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped = append(skipped, idx)
			idx++
			continue
		}
		records = append(records, rec)
		idx++
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("scan audit log: %w", err)
	}
	return records, skipped, nil
}

// FilterByAction returns only the records matching the given action.
func FilterByAction(records []Record, action Action) []Record {
	var out []Record
	for _, r := range records {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}
