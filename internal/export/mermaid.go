package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/replaylab/internal/model"
)

// GenerateMermaid produces a Mermaid graph TD diagram of a run: the
// conversation prefix, the fork point and one node per branch, styled by
// status. Edges to non-baseline branches are labelled with their similarity
// to the baseline.
func GenerateMermaid(res *model.ComparisonResult) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	cp := res.Checkpoint
	fmt.Fprintf(&sb, "  C[\"%s\"]\n", label(fmt.Sprintf("%s (%d messages)", shortID(cp.ConversationID), cp.MessageCount)))
	fmt.Fprintf(&sb, "  F{{\"fork @ step %d\"}}\n", cp.Step)
	sb.WriteString("  C --> F\n")

	metrics := make(map[string]model.BranchMetrics, len(res.Summary.Branches))
	for _, bm := range res.Summary.Branches {
		metrics[bm.Name] = bm
	}

	for i, b := range res.Branches {
		id := fmt.Sprintf("B%d", i)
		fmt.Fprintf(&sb, "  %s[\"%s\"]\n", id, label(fmt.Sprintf("%s: %s", b.BranchName, b.Status)))

		edge := ""
		if bm, ok := metrics[b.BranchName]; ok && bm.Divergence != nil {
			edge = fmt.Sprintf("|%.2f|", bm.Divergence.Similarity)
		} else if b.BranchName == res.Summary.Baseline {
			edge = "|baseline|"
		}
		fmt.Fprintf(&sb, "  F -->%s %s\n", edge, id)
	}

	sb.WriteString("  classDef success fill:#d4edda,stroke:#28a745\n")
	sb.WriteString("  classDef error fill:#f8d7da,stroke:#dc3545\n")
	sb.WriteString("  classDef timeout fill:#fff3cd,stroke:#ffc107\n")
	for i, b := range res.Branches {
		fmt.Fprintf(&sb, "  class B%d %s\n", i, b.Status)
	}
	return sb.String()
}

// shortID keeps session UUIDs readable in a node label.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:8]
	}
	return id
}

// label escapes double quotes, which Mermaid does not allow inside labels.
func label(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
