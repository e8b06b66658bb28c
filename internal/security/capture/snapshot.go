package capture

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaskToken replaces sensitive argument values in captured snapshots.
const MaskToken = "******"

// DefaultMaxFieldLength bounds serialized payloads when a descriptor does
// not set its own cap.
const DefaultMaxFieldLength = 2000

// sensitiveKeywords flags arguments by name regardless of position. Matched
// case-insensitively as substrings.
var sensitiveKeywords = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"credential",
	"apikey",
	"api_key",
	"authorization",
	"private_key",
}

// RequestSummary is an explicit, ordered snapshot of an operation's
// arguments. Call sites build it by hand; no reflection over arbitrary
// argument objects is involved.
type RequestSummary struct {
	args []argument
}

type argument struct {
	Name  string `json:"name,omitempty"`
	Value any    `json:"value"`
}

// NewRequestSummary starts an empty summary.
func NewRequestSummary() *RequestSummary {
	return &RequestSummary{}
}

// Arg appends a named argument and returns the summary for chaining.
func (s *RequestSummary) Arg(name string, value any) *RequestSummary {
	s.args = append(s.args, argument{Name: name, Value: value})
	return s
}

// Positional appends an unnamed argument.
func (s *RequestSummary) Positional(value any) *RequestSummary {
	s.args = append(s.args, argument{Value: value})
	return s
}

// Len returns the number of recorded arguments.
func (s *RequestSummary) Len() int {
	if s == nil {
		return 0
	}
	return len(s.args)
}

// serialize renders the summary as JSON with sensitive arguments masked and
// the result truncated to maxLen bytes. Arguments are masked when their
// position appears in sensitivePositions or their name contains a sensitive
// keyword. Truncation never fails; oversized payloads are cut, not rejected.
func (s *RequestSummary) serialize(sensitivePositions []int, maxLen int) (string, error) {
	if s == nil || len(s.args) == 0 {
		return "", nil
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxFieldLength
	}

	masked := make([]argument, len(s.args))
	for i, arg := range s.args {
		if isSensitive(i, arg.Name, sensitivePositions) {
			masked[i] = argument{Name: arg.Name, Value: MaskToken}
			continue
		}
		masked[i] = argument{Name: arg.Name, Value: jsonSafe(arg.Value)}
	}

	raw, err := json.Marshal(masked)
	if err != nil {
		return "", fmt.Errorf("serialize request summary: %w", err)
	}
	return truncate(string(raw), maxLen), nil
}

func isSensitive(position int, name string, positions []int) bool {
	for _, p := range positions {
		if p == position {
			return true
		}
	}
	lower := strings.ToLower(name)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// jsonSafe returns the value itself when it marshals cleanly, falling back
// to its fmt rendering otherwise (channels, funcs, cycles).
func jsonSafe(v any) any {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}

// truncate cuts s to at most maxLen bytes.
func truncate(s string, maxLen int) string {
	if maxLen > 0 && len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
