package sweep

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates the runs of one parameter combination.
type Summary struct {
	Key    string // "name=value ..." in sorted name order
	Params map[string]float64
	Runs   int
	Failed int

	MeanTicks          float64
	MeanSlums          float64
	StdSlums           float64
	MeanUnhappy        float64
	MeanSegregation    float64
	StdSegregation     float64
	MeanImmigrantShare float64
}

// ParamKey formats a parameter combination as "name=value ..." sorted by name.
func ParamKey(params map[string]float64) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%g", name, params[name])
	}
	return strings.Join(parts, " ")
}

// Summarize groups results by parameter combination, in first-seen order.
// Failed runs are counted but excluded from the statistics.
func Summarize(results []Result) []Summary {
	type acc struct {
		sum                                  Summary
		ticks, slums, unhappy, seg, immShare []float64
	}
	var order []string
	groups := map[string]*acc{}
	for _, r := range results {
		key := ParamKey(r.Params)
		g, ok := groups[key]
		if !ok {
			g = &acc{sum: Summary{Key: key, Params: r.Params}}
			groups[key] = g
			order = append(order, key)
		}
		if r.Err != nil {
			g.sum.Failed++
			continue
		}
		g.sum.Runs++
		f := r.Final
		g.ticks = append(g.ticks, float64(r.Steps))
		g.slums = append(g.slums, float64(f.Slums))
		g.unhappy = append(g.unhappy, float64(f.Unhappy))
		g.seg = append(g.seg, f.Segregation)
		share := 0.0
		if pop := f.Residents + f.Immigrants; pop > 0 {
			share = float64(f.Immigrants) / float64(pop)
		}
		g.immShare = append(g.immShare, share)
	}

	out := make([]Summary, 0, len(order))
	for _, key := range order {
		g := groups[key]
		s := g.sum
		if s.Runs > 0 {
			s.MeanTicks = stat.Mean(g.ticks, nil)
			s.MeanSlums, s.StdSlums = meanStd(g.slums)
			s.MeanUnhappy = stat.Mean(g.unhappy, nil)
			s.MeanSegregation, s.StdSegregation = meanStd(g.seg)
			s.MeanImmigrantShare = stat.Mean(g.immShare, nil)
		}
		out = append(out, s)
	}
	return out
}

// meanStd is stat.MeanStdDev with a zero deviation for single samples.
func meanStd(x []float64) (mean, std float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}
