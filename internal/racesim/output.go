package racesim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/slotrace/internal/domain/types"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

type streamResult struct {
	Name    string  `json:"name"`
	Wins    int     `json:"wins"`
	Races   int     `json:"races"`
	WinRate float64 `json:"win_rate"`
	MeanNS  float64 `json:"mean_lag_ns"`
	P50NS   int64   `json:"median_lag_ns"`
	P90NS   int64   `json:"p90_ns"`
	P95NS   int64   `json:"p95_ns"`
	P99NS   int64   `json:"p99_ns"`
}

type resultFile struct {
	RunID    string         `json:"run_id"`
	Duration string         `json:"duration"`
	TimedOut bool           `json:"timed_out"`
	Verdict  string         `json:"verdict"`
	Streams  []streamResult `json:"streams"`
	Races    []types.Race   `json:"races"`
}

// SaveJSON writes the result to path. An empty path picks a timestamped
// file name in the working directory. It returns the path written.
func SaveJSON(path string, res *Result) (string, error) {
	if path == "" {
		path = "race_" + time.Now().Format("20060102_150405") + ".json"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}

	out := resultFile{
		RunID:    res.RunID,
		Duration: res.Duration.Round(time.Millisecond).String(),
		TimedOut: res.TimedOut,
		Verdict:  res.Summary.Verdict(),
		Streams:  make([]streamResult, 0, len(res.Summary.Lines)),
		Races:    res.Races,
	}
	for _, l := range res.Summary.Lines {
		out.Streams = append(out.Streams, streamResult{
			Name:    l.Stream.Label(),
			Wins:    l.Wins,
			Races:   l.Races,
			WinRate: l.WinRate,
			MeanNS:  l.MeanNS,
			P50NS:   l.P50NS,
			P90NS:   l.P90NS,
			P95NS:   l.P95NS,
			P99NS:   l.P99NS,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), filePermission); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	return path, nil
}
