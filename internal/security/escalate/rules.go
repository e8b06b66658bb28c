package escalate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"blogguard/internal/security"
)

// Dimension names what a failure counter aggregates over.
type Dimension string

const (
	DimensionIP   Dimension = "ip"
	DimensionUser Dimension = "user"
)

// Rule describes one escalation pattern: which messages qualify, how they
// are counted, and the security event synthesized at the threshold.
type Rule struct {
	// Name identifies the rule in logs and counter keys.
	Name string `yaml:"name"`

	// Operations qualifying for this rule. Empty matches any operation.
	Operations []security.Operation `yaml:"operations"`

	// Results qualifying for this rule (FAILURE, DENIED, DETECTED).
	Results []security.Result `yaml:"results"`

	// Dimensions to count over; a message increments one counter per
	// dimension it has a value for.
	Dimensions []Dimension `yaml:"dimensions"`

	// Threshold fires the escalation when a counter reaches exactly this
	// value within the window.
	Threshold int `yaml:"threshold"`

	// Window is the sliding-window TTL on the counter.
	Window time.Duration `yaml:"window"`

	// EventType and Severity of the synthesized security event.
	EventType string `yaml:"event_type"`
	Severity  int    `yaml:"severity"`
}

// Matches reports whether the message qualifies for this rule.
func (r Rule) Matches(msg *security.Message) bool {
	if len(r.Operations) > 0 && !containsOp(r.Operations, msg.Operation) {
		return false
	}
	if len(r.Results) > 0 && !containsResult(r.Results, msg.Result) {
		return false
	}
	return true
}

func (r Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule requires a name")
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("rule %s: threshold must be positive", r.Name)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %s: window must be positive", r.Name)
	}
	if r.EventType == "" {
		return fmt.Errorf("rule %s: event type is required", r.Name)
	}
	if r.Severity < security.RiskMin || r.Severity > security.RiskMax {
		return fmt.Errorf("rule %s: severity %d outside [%d,%d]", r.Name, r.Severity, security.RiskMin, security.RiskMax)
	}
	if len(r.Dimensions) == 0 {
		return fmt.Errorf("rule %s: at least one dimension is required", r.Name)
	}
	return nil
}

// DefaultRules returns the built-in escalation rules. Thresholds and windows
// are configuration, not engine logic; override them with a rules file.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "login-brute-force-ip",
			Operations: []security.Operation{security.OpUserLogin, security.OpUserLoginFailure},
			Results:    []security.Result{security.ResultFailure},
			Dimensions: []Dimension{DimensionIP},
			Threshold:  10,
			Window:     time.Hour,
			EventType:  security.EventBruteForce,
			Severity:   5,
		},
		{
			Name:       "login-brute-force-user",
			Operations: []security.Operation{security.OpUserLogin, security.OpUserLoginFailure},
			Results:    []security.Result{security.ResultFailure},
			Dimensions: []Dimension{DimensionUser},
			Threshold:  5,
			Window:     time.Hour,
			EventType:  security.EventCredentialAbuse,
			Severity:   4,
		},
		{
			Name:       "access-denied-burst",
			Operations: []security.Operation{security.OpPermissionCheck},
			Results:    []security.Result{security.ResultDenied},
			Dimensions: []Dimension{DimensionUser, DimensionIP},
			Threshold:  20,
			Window:     time.Hour,
			EventType:  security.EventPrivilegeProbing,
			Severity:   4,
		},
		{
			Name:       "malicious-upload",
			Operations: []security.Operation{security.OpFileUpload, security.OpFileScan},
			Results:    []security.Result{security.ResultDetected, security.ResultFailure},
			Dimensions: []Dimension{DimensionUser},
			Threshold:  3,
			Window:     time.Hour,
			EventType:  security.EventMaliciousUpload,
			Severity:   5,
		},
	}
}

// rulesFile is the YAML document shape for rule overrides.
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads escalation rules from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var doc rulesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	for _, r := range doc.Rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	return doc.Rules, nil
}

func containsOp(ops []security.Operation, op security.Operation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func containsResult(results []security.Result, r security.Result) bool {
	for _, res := range results {
		if res == r {
			return true
		}
	}
	return false
}
