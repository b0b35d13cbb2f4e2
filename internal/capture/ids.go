package capture

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/stemsi/techassess/internal/model"
)

var (
	mcqIDPattern     = regexp.MustCompile(`^q(\d+)_opt(\d+)$`)
	codeIDPattern    = regexp.MustCompile(`^python-code-(\d+)$`)
	sqlAnswerPattern = regexp.MustCompile(`^sql-answer-(\d+)$`)
	sqlQueryPattern  = regexp.MustCompile(`^sql-query-(\d+)$`)
)

// Target is a parsed element id.
type Target struct {
	Kind model.ResponseKind
	// ID is the question or problem id.
	ID int
	// Option is the MCQ option index; zero for other kinds.
	Option int
}

// ParseID maps an element id to its response slot.
func ParseID(id string) (Target, bool) {
	if m := mcqIDPattern.FindStringSubmatch(id); m != nil {
		q, err1 := strconv.Atoi(m[1])
		opt, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			return Target{}, false
		}
		return Target{Kind: model.KindMCQ, ID: q, Option: opt}, true
	}
	for kind, re := range map[model.ResponseKind]*regexp.Regexp{
		model.KindCode:    codeIDPattern,
		model.KindSQL:     sqlAnswerPattern,
		model.KindScratch: sqlQueryPattern,
	} {
		if m := re.FindStringSubmatch(id); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return Target{}, false
			}
			return Target{Kind: kind, ID: n}, true
		}
	}
	return Target{}, false
}

// MCQOptionID returns the radio element id of option idx of question qid.
func MCQOptionID(qid, idx int) string { return fmt.Sprintf("q%d_opt%d", qid, idx) }

// MCQGroup returns the radio group name of question qid.
func MCQGroup(qid int) string { return fmt.Sprintf("question%d", qid) }

// CodeEditorID returns the editor element id of code problem n.
func CodeEditorID(n int) string { return fmt.Sprintf("python-code-%d", n) }

// SQLAnswerID returns the answer field id of SQL question n.
func SQLAnswerID(n int) string { return fmt.Sprintf("sql-answer-%d", n) }

// SQLQueryID returns the scratch editor id of SQL question n.
func SQLQueryID(n int) string { return fmt.Sprintf("sql-query-%d", n) }
