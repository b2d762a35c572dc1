// Package compare summarises the outcomes of a fork: per-branch metrics,
// aggregates over successful branches and a structural divergence signal
// against a baseline branch.
package compare

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/dusk-indust/replaylab/internal/logging"
	"github.com/dusk-indust/replaylab/internal/model"
)

// ErrEmptyResultSet is returned when there is nothing to compare.
var ErrEmptyResultSet = errors.New("compare: empty result set")

// DefaultPreviewLen is the number of characters kept in output previews.
const DefaultPreviewLen = 200

// Options tunes a comparison.
type Options struct {
	// Baseline names the branch to diff against. Empty selects the first
	// branch in request order.
	Baseline string
	// PreviewLen overrides DefaultPreviewLen when positive.
	PreviewLen int
}

// Report is the comparison of one run's branches.
type Report struct {
	Branches []model.BranchResult `json:"branches"`
	Summary  model.Summary        `json:"comparison_summary"`
	Status   model.RunStatus      `json:"status"`
}

// Compare builds a Report. Failed and timed out branches are reported with
// their status and error but take no part in divergence or aggregates.
func Compare(results []model.BranchResult, opts Options) (*Report, error) {
	if len(results) == 0 {
		return nil, ErrEmptyResultSet
	}
	previewLen := opts.PreviewLen
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}

	summary := model.Summary{
		TotalBranches: len(results),
		Branches:      make([]model.BranchMetrics, len(results)),
	}
	for i, r := range results {
		if r.Succeeded() {
			summary.Successful++
		} else {
			summary.Failed++
		}
		summary.Branches[i] = metricsFor(r, previewLen)
	}

	if base := pickBaseline(results, opts.Baseline); base >= 0 {
		summary.Baseline = results[base].BranchName
		baseline := results[base]
		baseTokens := words(baseline.AssistantOutput())
		for i, r := range results {
			if i == base || !r.Succeeded() {
				continue
			}
			summary.Branches[i].Divergence = diverge(baseline, baseTokens, r)
		}
	}
	summary.Metrics = aggregate(results)

	return &Report{
		Branches: results,
		Summary:  summary,
		Status:   OverallStatus(results),
	}, nil
}

// OverallStatus is success when every branch succeeded, failed when none
// did and partial otherwise.
func OverallStatus(results []model.BranchResult) model.RunStatus {
	ok := 0
	for _, r := range results {
		if r.Succeeded() {
			ok++
		}
	}
	switch {
	case ok == len(results):
		return model.RunSuccess
	case ok == 0:
		return model.RunFailed
	}
	return model.RunPartial
}

// Similarity is the difflib ratio of the word sequences of a and b, in
// [0, 1]. Two empty texts are identical.
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(words(a), words(b)).Ratio()
}

func words(s string) []string {
	return strings.Fields(s)
}

// pickBaseline returns the index of the baseline branch, or -1 when no
// branch succeeded. A requested baseline that did not succeed, or that does
// not exist, falls back to the first successful branch.
func pickBaseline(results []model.BranchResult, name string) int {
	want := 0
	if name != "" {
		want = -1
		for i, r := range results {
			if r.BranchName == name {
				want = i
				break
			}
		}
		if want < 0 {
			logging.Warn().Str("baseline", name).Msg("baseline branch not in results, using first successful branch")
		}
	}
	if want >= 0 && results[want].Succeeded() {
		return want
	}
	for i, r := range results {
		if r.Succeeded() {
			return i
		}
	}
	return -1
}

func diverge(base model.BranchResult, baseTokens []string, r model.BranchResult) *model.Divergence {
	sim := difflib.NewMatcher(baseTokens, words(r.AssistantOutput())).Ratio()
	return &model.Divergence{
		Similarity:        sim,
		Score:             1 - sim,
		MessageCountDelta: len(r.Messages) - len(base.Messages),
		DurationDeltaMS:   r.DurationMS - base.DurationMS,
		TokenDelta:        totalTokens(r) - totalTokens(base),
	}
}

func totalTokens(r model.BranchResult) int64 {
	if r.TokenUsage == nil {
		return 0
	}
	return r.TokenUsage.TotalTokens
}

func metricsFor(r model.BranchResult, previewLen int) model.BranchMetrics {
	m := model.BranchMetrics{
		Name:          r.BranchName,
		Status:        r.Status,
		Model:         r.Config.Model,
		DurationMS:    r.DurationMS,
		MessageCount:  len(r.Messages),
		OutputPreview: Truncate(r.LastOutput(), previewLen),
		Error:         r.Error,
	}
	if r.TokenUsage != nil {
		u := *r.TokenUsage
		m.Tokens = &u
	}
	return m
}

func aggregate(results []model.BranchResult) *model.Aggregates {
	var (
		agg       model.Aggregates
		n         int64
		sum       int64
		tokenSum  int64
		tokenSeen int64
	)
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		if n == 0 || r.DurationMS < agg.MinDurationMS {
			agg.MinDurationMS = r.DurationMS
		}
		if n == 0 || r.DurationMS > agg.MaxDurationMS {
			agg.MaxDurationMS = r.DurationMS
		}
		n++
		sum += r.DurationMS
		if r.TokenUsage != nil {
			tokenSum += r.TokenUsage.TotalTokens
			tokenSeen++
		}
	}
	if n == 0 {
		return nil
	}
	agg.AvgDurationMS = sum / n
	if tokenSeen > 0 {
		avg := tokenSum / tokenSeen
		agg.AvgTokens = &avg
	}
	return &agg
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
