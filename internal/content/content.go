// Package content loads the assessment definition: questions, answer key,
// section maxima, time budget and code test cases.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stemsi/techassess/internal/model"
	"github.com/stemsi/techassess/internal/scoring"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("content: invalid assessment")

// Assessment is the full assessment definition.
type Assessment struct {
	Title              string           `yaml:"title"`
	DurationMinutes    int              `yaml:"duration_minutes"`
	ViolationThreshold int              `yaml:"violation_threshold"`
	MaxPoints          model.SectionMax `yaml:"max_points"`
	MCQ                []MCQQuestion    `yaml:"mcq"`
	Code               []CodeProblem    `yaml:"code"`
	SQL                []SQLQuestion    `yaml:"sql"`
}

// MCQQuestion is a single-answer multiple-choice question.
type MCQQuestion struct {
	ID       int      `yaml:"id"`
	Question string   `yaml:"question"`
	Options  []string `yaml:"options"`
	Correct  int      `yaml:"correct"`
}

// CodeProblem is a coding task graded by the executor.
type CodeProblem struct {
	ID        int              `yaml:"id"`
	Title     string           `yaml:"title"`
	TestCases []model.TestCase `yaml:"test_cases"`
}

// SQLQuestion is a free-text question answered after querying the dataset.
type SQLQuestion struct {
	ID       int           `yaml:"id"`
	Question string        `yaml:"question"`
	Answer   string        `yaml:"answer"`
	Match    scoring.Match `yaml:"match"`
}

// Default returns the embedded assessment.
func Default() (*Assessment, error) {
	return Parse(defaultYAML)
}

// Load reads the assessment at path, or the embedded default when path is
// empty.
func Load(path string) (*Assessment, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates an assessment document.
func Parse(raw []byte) (*Assessment, error) {
	var a Assessment
	if err := yaml.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks ids are unique, every key points at a real option and the
// section maxima match what grading can award: one point per MCQ and SQL
// question.
func (a *Assessment) Validate() error {
	if a.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", ErrInvalid)
	}
	if a.MaxPoints.MCQ != len(a.MCQ) {
		return fmt.Errorf("%w: max_points.mcq is %d for %d questions", ErrInvalid, a.MaxPoints.MCQ, len(a.MCQ))
	}
	if a.MaxPoints.SQL != len(a.SQL) {
		return fmt.Errorf("%w: max_points.sql is %d for %d questions", ErrInvalid, a.MaxPoints.SQL, len(a.SQL))
	}
	if a.MaxPoints.Code < 0 {
		return fmt.Errorf("%w: max_points.code must not be negative", ErrInvalid)
	}
	seen := map[int]bool{}
	for _, q := range a.MCQ {
		if seen[q.ID] {
			return fmt.Errorf("%w: duplicate mcq id %d", ErrInvalid, q.ID)
		}
		seen[q.ID] = true
		if q.Correct < 0 || q.Correct >= len(q.Options) {
			return fmt.Errorf("%w: mcq %d correct index %d out of range", ErrInvalid, q.ID, q.Correct)
		}
	}
	clear(seen)
	for _, p := range a.Code {
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate code id %d", ErrInvalid, p.ID)
		}
		seen[p.ID] = true
	}
	clear(seen)
	for _, q := range a.SQL {
		if seen[q.ID] {
			return fmt.Errorf("%w: duplicate sql id %d", ErrInvalid, q.ID)
		}
		seen[q.ID] = true
		switch q.Match {
		case "", scoring.MatchExact, scoring.MatchContainsAll:
		default:
			return fmt.Errorf("%w: sql %d unknown match rule %q", ErrInvalid, q.ID, q.Match)
		}
	}
	return nil
}

// Universe returns the addressable id set for the response model.
func (a *Assessment) Universe() model.Universe {
	u := model.Universe{
		MCQ:  make(map[int]int, len(a.MCQ)),
		Code: make(map[int]struct{}, len(a.Code)),
		SQL:  make(map[int]struct{}, len(a.SQL)),
	}
	for _, q := range a.MCQ {
		u.MCQ[q.ID] = len(q.Options)
	}
	for _, p := range a.Code {
		u.Code[p.ID] = struct{}{}
	}
	for _, q := range a.SQL {
		u.SQL[q.ID] = struct{}{}
	}
	return u
}

// Key returns the scoring key.
func (a *Assessment) Key() scoring.Key {
	k := scoring.Key{
		MCQ:      make(map[int]int, len(a.MCQ)),
		SQL:      make(map[int]string, len(a.SQL)),
		SQLMatch: make(map[int]scoring.Match),
		Max:      a.MaxPoints,
	}
	for _, q := range a.MCQ {
		k.MCQ[q.ID] = q.Correct
	}
	for _, q := range a.SQL {
		k.SQL[q.ID] = q.Answer
		if q.Match != "" {
			k.SQLMatch[q.ID] = q.Match
		}
	}
	return k
}

// TestCases returns the configured tests of code problem id.
func (a *Assessment) TestCases(id int) ([]model.TestCase, bool) {
	for _, p := range a.Code {
		if p.ID == id {
			return p.TestCases, true
		}
	}
	return nil, false
}

// VisibleTestCases returns only the tests a candidate may see.
func (a *Assessment) VisibleTestCases(id int) ([]model.TestCase, bool) {
	all, ok := a.TestCases(id)
	if !ok {
		return nil, false
	}
	out := make([]model.TestCase, 0, len(all))
	for _, tc := range all {
		if tc.Visible {
			out = append(out, tc)
		}
	}
	return out, true
}

// Paper is the candidate-facing assessment: no answer key, no hidden tests.
type Paper struct {
	Title           string           `json:"title"`
	DurationMinutes int              `json:"duration_minutes"`
	MaxPoints       model.SectionMax `json:"max_points"`
	MCQ             []PaperMCQ       `json:"mcq"`
	Code            []PaperCode      `json:"python"`
	SQL             []PaperSQL       `json:"sql"`
}

type PaperMCQ struct {
	ID       int      `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type PaperCode struct {
	ID        int              `json:"id"`
	Title     string           `json:"title"`
	TestCases []model.TestCase `json:"test_cases"`
}

type PaperSQL struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
}

// Paper strips answers and hidden tests.
func (a *Assessment) Paper() Paper {
	p := Paper{
		Title:           a.Title,
		DurationMinutes: a.DurationMinutes,
		MaxPoints:       a.MaxPoints,
		MCQ:             make([]PaperMCQ, 0, len(a.MCQ)),
		Code:            make([]PaperCode, 0, len(a.Code)),
		SQL:             make([]PaperSQL, 0, len(a.SQL)),
	}
	for _, q := range a.MCQ {
		p.MCQ = append(p.MCQ, PaperMCQ{ID: q.ID, Question: q.Question, Options: q.Options})
	}
	for _, c := range a.Code {
		visible, _ := a.VisibleTestCases(c.ID)
		p.Code = append(p.Code, PaperCode{ID: c.ID, Title: c.Title, TestCases: visible})
	}
	for _, q := range a.SQL {
		p.SQL = append(p.SQL, PaperSQL{ID: q.ID, Question: q.Question})
	}
	return p
}
