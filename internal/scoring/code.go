package scoring

import "github.com/stemsi/techassess/internal/model"

// CodePoints converts per-problem execution results into code-section
// points. Each of the problems is worth maxPoints/problems, scaled by its
// passed/total ratio; a missing result earns nothing. The sum is rounded
// half up to the nearest point.
func CodePoints(results map[int]model.ExecutionResult, problems, maxPoints int) int {
	if problems <= 0 || maxPoints <= 0 {
		return 0
	}
	var earned float64
	per := float64(maxPoints) / float64(problems)
	for _, res := range results {
		if res.TotalTests <= 0 {
			continue
		}
		passed := min(max(res.Passed, 0), res.TotalTests)
		earned += per * float64(passed) / float64(res.TotalTests)
	}
	pts := int(earned + 0.5)
	return min(pts, maxPoints)
}
