// Package results persists and reads back decision outcomes: per-iteration
// evaluation CSVs written during a run, aggregated batch label CSVs, and a
// SQLite store for querying runs after the fact.
package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CommonRoad/sandra/internal/actions"
)

// TravelledID marks the final evaluation row, which carries the distance
// travelled by the ego vehicle in the Lateral1 column.
const TravelledID = "Travelled"

// IterationRow is one decision cycle in an evaluation CSV. Lateral and
// Longitudinal hold the ranked actions, best first.
type IterationRow struct {
	Iteration    int
	VerifiedID   int
	Lateral      []string
	Longitudinal []string
}

// Evaluation is the parsed contents of one evaluation.csv.
type Evaluation struct {
	TopK      int
	Rows      []IterationRow
	Travelled float64
}

// MaxIteration returns the largest iteration id, or -1 when no decision
// rows were recorded.
func (e *Evaluation) MaxIteration() int {
	max := -1
	for _, r := range e.Rows {
		if r.Iteration > max {
			max = r.Iteration
		}
	}
	return max
}

// EvaluationWriter appends decision rows to an evaluation.csv.
type EvaluationWriter struct {
	f    *os.File
	w    *csv.Writer
	topK int
}

// NewEvaluationWriter creates the file (and parent directories) and writes
// the header row.
func NewEvaluationWriter(path string, topK int) (*EvaluationWriter, error) {
	if topK < 1 {
		return nil, fmt.Errorf("top-k must be positive, got %d", topK)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation file: %w", err)
	}
	ew := &EvaluationWriter{f: f, w: csv.NewWriter(f), topK: topK}
	header := []string{"iteration-id", "verified-id"}
	for i := 1; i <= topK; i++ {
		header = append(header, fmt.Sprintf("Lateral%d", i))
	}
	for i := 1; i <= topK; i++ {
		header = append(header, fmt.Sprintf("Longitudinal%d", i))
	}
	if err := ew.w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	ew.w.Flush()
	return ew, ew.w.Error()
}

// WriteIteration records one decision cycle. The ranking is padded with
// empty columns when shorter than top-k and truncated when longer.
func (ew *EvaluationWriter) WriteIteration(iteration, verifiedID int, ranking []actions.Action) error {
	rec := []string{strconv.Itoa(iteration), strconv.Itoa(verifiedID)}
	for i := 0; i < ew.topK; i++ {
		if i < len(ranking) {
			rec = append(rec, string(ranking[i].Lateral))
		} else {
			rec = append(rec, "")
		}
	}
	for i := 0; i < ew.topK; i++ {
		if i < len(ranking) {
			rec = append(rec, string(ranking[i].Longitudinal))
		} else {
			rec = append(rec, "")
		}
	}
	if err := ew.w.Write(rec); err != nil {
		return fmt.Errorf("failed to write iteration row: %w", err)
	}
	ew.w.Flush()
	return ew.w.Error()
}

// WriteTravelled appends the closing row carrying the travelled
// distance in the Lateral1 column.
func (ew *EvaluationWriter) WriteTravelled(distance float64) error {
	rec := []string{TravelledID, ""}
	for i := 0; i < 2*ew.topK; i++ {
		rec = append(rec, "")
	}
	rec[2] = strconv.FormatFloat(distance, 'f', -1, 64)
	if err := ew.w.Write(rec); err != nil {
		return fmt.Errorf("failed to write travelled row: %w", err)
	}
	ew.w.Flush()
	return ew.w.Error()
}

// Close flushes and closes the underlying file.
func (ew *EvaluationWriter) Close() error {
	ew.w.Flush()
	if err := ew.w.Error(); err != nil {
		ew.f.Close()
		return err
	}
	return ew.f.Close()
}

// ReadEvaluation parses an evaluation.csv produced by EvaluationWriter.
func ReadEvaluation(path string) (*Evaluation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open evaluation file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read evaluation file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("evaluation file %s is empty", path)
	}
	header := records[0]
	if len(header) < 2 || header[0] != "iteration-id" || header[1] != "verified-id" {
		return nil, fmt.Errorf("unexpected evaluation header %v", header)
	}
	topK := (len(header) - 2) / 2

	ev := &Evaluation{TopK: topK}
	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("row has %d columns, want %d", len(rec), len(header))
		}
		if rec[0] == TravelledID {
			d, err := strconv.ParseFloat(rec[2], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid travelled distance %q: %w", rec[2], err)
			}
			ev.Travelled = d
			continue
		}
		iter, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid iteration id %q: %w", rec[0], err)
		}
		vid, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("invalid verified id %q: %w", rec[1], err)
		}
		row := IterationRow{Iteration: iter, VerifiedID: vid}
		for i := 0; i < topK; i++ {
			row.Lateral = append(row.Lateral, rec[2+i])
			row.Longitudinal = append(row.Longitudinal, rec[2+topK+i])
		}
		ev.Rows = append(ev.Rows, row)
	}
	return ev, nil
}

// BatchLabelRow is one scenario's line in a batch labels CSV: the ground
// truth trajectory labels plus the per-run safety and match outcomes.
type BatchLabelRow struct {
	ScenarioID             string
	TrajectoryLateral      string
	TrajectoryLongitudinal string
	SafeTop1               bool
	SafeTopK               bool
	MatchTop1              bool
	MatchTopK              bool
	MonaSafe               *bool
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parsePyBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "True", "true", "1":
		return true, nil
	case "False", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// WriteBatchLabels writes a batch labels CSV. The MONA column is included
// only when at least one row carries a MONA verdict.
func WriteBatchLabels(path string, rows []BatchLabelRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create batch labels file: %w", err)
	}
	defer f.Close()

	withMona := false
	for _, r := range rows {
		if r.MonaSafe != nil {
			withMona = true
			break
		}
	}

	w := csv.NewWriter(f)
	header := []string{
		"ScenarioID", "Trajectory_Lateral", "Trajectory_Longitudinal",
		"Safe_Top1", "Safe_TopK", "Match_Top1", "Match_TopK",
	}
	if withMona {
		header = append(header, "MONA_safe")
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.ScenarioID, r.TrajectoryLateral, r.TrajectoryLongitudinal,
			pyBool(r.SafeTop1), pyBool(r.SafeTopK),
			pyBool(r.MatchTop1), pyBool(r.MatchTopK),
		}
		if withMona {
			if r.MonaSafe != nil {
				rec = append(rec, pyBool(*r.MonaSafe))
			} else {
				rec = append(rec, "")
			}
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", r.ScenarioID, err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadBatchLabels parses a batch labels CSV written by WriteBatchLabels,
// or a hand-maintained label file with the same leading columns.
func ReadBatchLabels(path string) ([]BatchLabelRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch labels file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch labels file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("batch labels file %s is empty", path)
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"ScenarioID", "Trajectory_Lateral", "Trajectory_Longitudinal"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("batch labels file missing column %s", required)
		}
	}

	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}
	getBool := func(rec []string, name string) bool {
		b, err := parsePyBool(get(rec, name))
		return err == nil && b
	}

	var rows []BatchLabelRow
	for _, rec := range records[1:] {
		row := BatchLabelRow{
			ScenarioID:             get(rec, "ScenarioID"),
			TrajectoryLateral:      get(rec, "Trajectory_Lateral"),
			TrajectoryLongitudinal: get(rec, "Trajectory_Longitudinal"),
			SafeTop1:               getBool(rec, "Safe_Top1"),
			SafeTopK:               getBool(rec, "Safe_TopK"),
			MatchTop1:              getBool(rec, "Match_Top1"),
			MatchTopK:              getBool(rec, "Match_TopK"),
		}
		if _, ok := col["MONA_safe"]; ok {
			if v, err := parsePyBool(get(rec, "MONA_safe")); err == nil {
				row.MonaSafe = &v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
