package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/replaylab/internal/compare"
	"github.com/dusk-indust/replaylab/internal/model"
)

// previewLen is the table preview width in runes.
const previewLen = 50

// FormatMarkdown renders a run as a Markdown report: a header, one table row
// per branch and the summary metrics.
func FormatMarkdown(res *model.ComparisonResult) string {
	var sb strings.Builder

	sb.WriteString("# Fork & Compare Results\n\n")
	if res.RunID != "" {
		fmt.Fprintf(&sb, "**Run:** %s\n", res.RunID)
	}
	fmt.Fprintf(&sb, "**Conversation:** %s\n", res.Checkpoint.ConversationID)
	fmt.Fprintf(&sb, "**Fork at step:** %d\n", res.Checkpoint.Step)
	fmt.Fprintf(&sb, "**Status:** %s\n", res.Status)
	fmt.Fprintf(&sb, "**Total duration:** %dms\n\n", res.TotalDurationMS)

	sb.WriteString("## Branch Results\n\n")
	sb.WriteString("| Branch | Model | Status | Duration | Tokens | Output Preview |\n")
	sb.WriteString("|--------|-------|--------|----------|--------|----------------|\n")
	for _, b := range res.Branches {
		tokens := "-"
		if b.TokenUsage != nil {
			tokens = fmt.Sprintf("%d", b.TokenUsage.TotalTokens)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %dms | %s | %s |\n",
			cell(b.BranchName), cell(shortModel(b.Config.Model)), b.Status, b.DurationMS, tokens, cell(preview(b)))
	}

	s := res.Summary
	if s.TotalBranches == 0 {
		return sb.String()
	}

	sb.WriteString("\n## Summary\n\n")
	fmt.Fprintf(&sb, "- **Successful:** %d/%d\n", s.Successful, s.TotalBranches)
	if s.Baseline != "" {
		fmt.Fprintf(&sb, "- **Baseline:** %s\n", s.Baseline)
	}
	if m := s.Metrics; m != nil {
		fmt.Fprintf(&sb, "- **Average duration:** %dms\n", m.AvgDurationMS)
		if m.AvgTokens != nil {
			fmt.Fprintf(&sb, "- **Average tokens:** %d\n", *m.AvgTokens)
		} else {
			sb.WriteString("- **Average tokens:** -\n")
		}
	}

	var div []model.BranchMetrics
	for _, bm := range s.Branches {
		if bm.Divergence != nil {
			div = append(div, bm)
		}
	}
	if len(div) > 0 {
		fmt.Fprintf(&sb, "\n## Divergence from %s\n\n", s.Baseline)
		sb.WriteString("| Branch | Similarity | Messages Δ | Duration Δ | Tokens Δ |\n")
		sb.WriteString("|--------|------------|------------|------------|----------|\n")
		for _, bm := range div {
			d := bm.Divergence
			fmt.Fprintf(&sb, "| %s | %.2f | %+d | %+dms | %+d |\n",
				cell(bm.Name), d.Similarity, d.MessageCountDelta, d.DurationDeltaMS, d.TokenDelta)
		}
	}

	var failed []model.BranchMetrics
	for _, bm := range s.Branches {
		if bm.Status != model.StatusSuccess {
			failed = append(failed, bm)
		}
	}
	if len(failed) > 0 {
		sb.WriteString("\n## Failures\n\n")
		for _, bm := range failed {
			fmt.Fprintf(&sb, "- **%s** (%s): %s\n", bm.Name, bm.Status, bm.Error)
		}
	}
	return sb.String()
}

// preview is the start of the last message, flattened to one line.
func preview(b model.BranchResult) string {
	out := strings.ReplaceAll(b.LastOutput(), "\n", " ")
	if short := compare.Truncate(out, previewLen); short != out {
		return short + "..."
	}
	return out
}

// shortModel drops a provider prefix such as "openai/".
func shortModel(m string) string {
	if i := strings.LastIndex(m, "/"); i >= 0 {
		return m[i+1:]
	}
	return m
}

// cell escapes pipes so a value cannot break the table.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
