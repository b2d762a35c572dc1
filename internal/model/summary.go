package model

// Summary is the cross-branch comparison attached to a run.
type Summary struct {
	TotalBranches int `json:"total_branches"`
	Successful    int `json:"successful"`
	Failed        int `json:"failed"`
	// Baseline names the branch divergence is measured against. Empty when
	// no branch succeeded.
	Baseline string          `json:"baseline,omitempty"`
	Branches []BranchMetrics `json:"branches"`
	Metrics  *Aggregates     `json:"metrics,omitempty"`
}

// BranchMetrics are the per-branch figures in request order.
type BranchMetrics struct {
	Name          string       `json:"name"`
	Status        BranchStatus `json:"status"`
	Model         string       `json:"model"`
	DurationMS    int64        `json:"duration_ms"`
	MessageCount  int          `json:"message_count"`
	Tokens        *TokenUsage  `json:"tokens,omitempty"`
	OutputPreview string       `json:"output_preview,omitempty"`
	Error         string       `json:"error,omitempty"`
	Divergence    *Divergence  `json:"divergence,omitempty"`
}

// Divergence compares a successful branch with the baseline branch.
type Divergence struct {
	// Similarity is in [0, 1]; 1 means identical assistant output.
	Similarity float64 `json:"similarity"`
	// Score is 1 - Similarity.
	Score             float64 `json:"score"`
	MessageCountDelta int     `json:"message_count_delta"`
	DurationDeltaMS   int64   `json:"duration_delta_ms"`
	TokenDelta        int64   `json:"token_delta"`
}

// Aggregates are computed over successful branches only.
type Aggregates struct {
	AvgDurationMS int64  `json:"avg_duration_ms"`
	MinDurationMS int64  `json:"min_duration_ms"`
	MaxDurationMS int64  `json:"max_duration_ms"`
	AvgTokens     *int64 `json:"avg_tokens,omitempty"`
}
