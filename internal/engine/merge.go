package engine

import "strings"

// MergeResult holds the combined verdict and its reason.
type MergeResult struct {
	Verdict Verdict
	Reason  string
}

// Merge combines gate results into one verdict.
//
// Rules (applied in order):
//  1. Any gate returned BLOCK -> BLOCK, reason carries every blocking
//     gate's explanation.
//  2. Any gate returned WARN -> WARN, reason carries every warning
//     gate's explanation.
//  3. Otherwise -> ALLOW.
//
// Overridden results count as ALLOW; their explanations survive in the
// annotations, not the reason.
func Merge(results []*GateResult) MergeResult {
	verdict := VerdictAllow
	var blocks, warns []string

	for _, r := range results {
		if r == nil || r.Overridden {
			continue
		}
		switch r.Verdict {
		case VerdictBlock:
			verdict = VerdictBlock
			blocks = append(blocks, r.Gate+": "+r.Explanation)
		case VerdictWarn:
			if verdict != VerdictBlock {
				verdict = VerdictWarn
			}
			warns = append(warns, r.Gate+": "+r.Explanation)
		}
	}

	reason := ""
	switch verdict {
	case VerdictBlock:
		reason = strings.Join(blocks, "; ")
	case VerdictWarn:
		reason = strings.Join(warns, "; ")
	}

	return MergeResult{Verdict: verdict, Reason: reason}
}
