package model

// TestCase is one executor test for a code problem. Test is appended to the
// candidate's source and its stdout is compared with Expected.
type TestCase struct {
	Name     string `json:"name" yaml:"name"`
	Test     string `json:"test" yaml:"test"`
	Expected string `json:"expected" yaml:"expected"`
	Visible  bool   `json:"visible" yaml:"visible"`
}

// ExecuteRequest is forwarded to the code execution collaborator. When
// ProblemID is set and TestCases is empty the server fills in the problem's
// configured tests.
type ExecuteRequest struct {
	Code      string     `json:"code" binding:"required,max=65536"`
	ProblemID int        `json:"problem_id,omitempty" binding:"min=0"`
	TestCases []TestCase `json:"test_cases,omitempty"`
}

// TestResult is the verdict of a single test case.
type TestResult struct {
	TestName string  `json:"test_name"`
	Visible  bool    `json:"visible"`
	Passed   bool    `json:"passed"`
	Expected string  `json:"expected"`
	Actual   *string `json:"actual"`
	Error    *string `json:"error"`
}

// ExecutionResult is the executor's response.
type ExecutionResult struct {
	Success     bool         `json:"success"`
	Output      *string      `json:"output"`
	Error       *string      `json:"error"`
	TestMode    bool         `json:"test_mode"`
	TotalTests  int          `json:"total_tests"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	TestResults []TestResult `json:"test_results"`
}
