package sweep

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/talgya/gentrify/internal/engine"
	"github.com/talgya/gentrify/internal/persistence"
)

var statsColumns = []string{
	"tick", "residents", "immigrants", "slums", "vacant", "happy", "unhappy",
	"moved", "failed_moves", "slum_conversions", "arrivals",
	"avg_income", "avg_resident_income", "avg_immigrant_income",
	"avg_quality", "max_quality", "avg_utility", "segregation",
}

func statsRecord(s engine.Stats) []string {
	i := strconv.Itoa
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		strconv.FormatUint(s.Tick, 10), i(s.Residents), i(s.Immigrants), i(s.Slums), i(s.Vacant),
		i(s.Happy), i(s.Unhappy), i(s.Moved), i(s.FailedMoves), i(s.SlumConversions), i(s.Arrivals),
		f(s.AvgIncome), f(s.AvgResidentIncome), f(s.AvgImmigrantIncome),
		f(s.AvgQuality), f(s.MaxQuality), f(s.AvgUtility), f(s.Segregation),
	}
}

// WriteCSV writes one row per sampled tick of every run. Runs without
// samples get a single row of their final stats.
func WriteCSV(w io.Writer, results []Result) error {
	paramSet := map[string]bool{}
	for _, r := range results {
		for name := range r.Params {
			paramSet[name] = true
		}
	}
	params := make([]string, 0, len(paramSet))
	for name := range paramSet {
		params = append(params, name)
	}
	sort.Strings(params)

	cw := csv.NewWriter(w)
	header := append([]string{"run_id", "index", "iteration", "seed"}, params...)
	header = append(header, statsColumns...)
	header = append(header, "stop_reason", "error")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		prefix := []string{r.RunID, strconv.Itoa(r.Index), strconv.Itoa(r.Iteration), strconv.FormatInt(r.Seed, 10)}
		for _, name := range params {
			v, ok := r.Params[name]
			if !ok {
				prefix = append(prefix, "")
				continue
			}
			prefix = append(prefix, strconv.FormatFloat(v, 'g', -1, 64))
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}

		rows := r.History
		if len(rows) == 0 {
			rows = []engine.Stats{r.Final}
		}
		for _, st := range rows {
			rec := append(append([]string{}, prefix...), statsRecord(st)...)
			rec = append(rec, string(r.Reason), errText)
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// Save records a result as a run in the database.
func Save(db *persistence.DB, label string, r Result) error {
	if err := db.CreateRun(r.RunID, label, r.Seed, r.Point); err != nil {
		return err
	}
	if err := db.SaveStats(r.RunID, r.History); err != nil {
		return fmt.Errorf("save stats for run %s: %w", r.RunID, err)
	}
	reason := string(r.Reason)
	if r.Err != nil {
		reason = string(engine.StopError)
	}
	return db.FinishRun(r.RunID, r.Steps, reason)
}
