// Package scoring grades a set of responses against an answer key. The server
// and the offline client fallback share it so both produce identical MCQ and
// SQL points.
package scoring

import (
	"strings"

	"github.com/stemsi/techassess/internal/model"
)

// Match selects how a SQL answer is compared with its key.
type Match string

const (
	// MatchExact compares trimmed, case-folded strings.
	MatchExact Match = "exact"
	// MatchContainsAll splits the key on commas and requires every term to
	// appear in the answer, in any order.
	MatchContainsAll Match = "contains_all"
)

// Key is the answer key and section maxima of one assessment.
type Key struct {
	MCQ      map[int]int
	SQL      map[int]string
	SQLMatch map[int]Match
	Max      model.SectionMax
}

// Grade scores r against k. code carries the code-section points computed
// from execution results; nil marks the section ungraded.
func Grade(r model.Responses, k Key, code *int) model.ScoreRecord {
	rec := model.ScoreRecord{
		MCQ: gradeMCQ(r.MCQ, k.MCQ),
		SQL: gradeSQL(r.SQL, k),
		Max: k.Max,
	}
	if code != nil {
		pts := min(max(*code, 0), k.Max.Code)
		rec.Code = &pts
	}
	rec.Total = rec.MCQ + rec.SQL
	if rec.Code != nil {
		rec.Total += *rec.Code
	}
	return rec
}

// Offline scores r locally when the server could not be reached. Code is
// left ungraded.
func Offline(r model.Responses, k Key) model.ScoreRecord {
	rec := Grade(r, k, nil)
	rec.Offline = true
	return rec
}

func gradeMCQ(answers, key map[int]int) int {
	pts := 0
	for qid, sel := range answers {
		if want, ok := key[qid]; ok && want == sel {
			pts++
		}
	}
	return pts
}

func gradeSQL(answers map[int]string, k Key) int {
	pts := 0
	for qid, ans := range answers {
		want, ok := k.SQL[qid]
		if !ok {
			continue
		}
		if MatchSQL(ans, want, k.SQLMatch[qid]) {
			pts++
		}
	}
	return pts
}

// MatchSQL reports whether answer satisfies key under rule. An exact match
// always counts, whatever the rule.
func MatchSQL(answer, key string, rule Match) bool {
	got := normalize(answer)
	if got == "" {
		return false
	}
	if got == normalize(key) {
		return true
	}
	if rule != MatchContainsAll {
		return false
	}
	terms := 0
	for term := range strings.SplitSeq(key, ",") {
		term = normalize(term)
		if term == "" {
			continue
		}
		if !strings.Contains(got, term) {
			return false
		}
		terms++
	}
	return terms > 0
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
