// Package xccdf reads SCAP datastreams and XCCDF evaluation results.
//
// ParseResults turns the results document written by oscap into a Report:
// per-rule outcomes merged with the rule metadata (title, description,
// rationale, fix text, severity) found in the definition document, plus
// pass/fail/other tallies and a 0-100 score.
package xccdf

import (
	"math"
	"os"
	"strings"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

const (
	// SeverityUnknown is used when neither the result nor the rule carries a severity.
	SeverityUnknown = "unknown"
	// StatusUnknown is recorded for a rule-result without a result child.
	StatusUnknown = "unknown"
)

// RuleMetadata describes one Rule of a benchmark.
type RuleMetadata struct {
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
	FixText     string `json:"fixtext"`
}

// RuleResult is one evaluated rule.
type RuleResult struct {
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
	FixText     string `json:"fixtext"`
}

// Report is the parsed outcome of one host evaluation.
type Report struct {
	Rules  []RuleResult `json:"rules"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Other  int          `json:"other"`
	Score  float64      `json:"score"`
}

// Total is the number of evaluated rules.
func (r *Report) Total() int {
	return r.Passed + r.Failed + r.Other
}

// ParseError reports a results document that could not be read. The
// accompanying Report is empty and still usable.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "xccdf: parse " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return sgerrors.E(sgerrors.KindParse, "xccdf.ParseResults", e.Err)
}

// ParseRuleMetadata collects every Rule element of the document at path.
// An empty path, a missing file or malformed XML yield an empty map.
func ParseRuleMetadata(path string) map[string]RuleMetadata {
	meta := make(map[string]RuleMetadata)
	if path == "" {
		return meta
	}
	root, err := parseFile(path)
	if err != nil {
		return meta
	}
	for _, rule := range root.findAll("Rule") {
		id := rule.attr("id")
		if id == "" {
			continue
		}
		severity := rule.attr("severity")
		if severity == "" {
			severity = SeverityUnknown
		}
		meta[id] = RuleMetadata{
			RuleID:      id,
			Severity:    severity,
			Title:       rule.find("title").text(),
			Description: rule.find("description").text(),
			Rationale:   rule.find("rationale").text(),
			FixText:     rule.find("fixtext").text(),
		}
	}
	return meta
}

// ParseResults reads the rule-result entries of resultsPath and enriches
// them with metadata from definitionPath. On unreadable input it returns an
// empty Report together with a *ParseError.
func ParseResults(resultsPath, definitionPath string) (*Report, error) {
	report := &Report{Rules: []RuleResult{}}

	root, err := parseFile(resultsPath)
	if err != nil {
		return report, &ParseError{Path: resultsPath, Err: err}
	}

	meta := ParseRuleMetadata(definitionPath)

	for _, rr := range root.findAll("rule-result") {
		id := rr.attr("idref")
		severity := rr.attr("severity")
		if severity == "" {
			severity = SeverityUnknown
		}

		status := StatusUnknown
		if res := rr.child("result"); res != nil {
			status = strings.ToLower(strings.TrimSpace(res.text()))
		}
		switch Classify(status) {
		case OutcomePass:
			report.Passed++
		case OutcomeFail:
			report.Failed++
		default:
			report.Other++
		}

		result := RuleResult{RuleID: id, Severity: severity, Status: status}
		if m, ok := meta[id]; ok {
			if severity == SeverityUnknown {
				result.Severity = m.Severity
			}
			result.Title = m.Title
			result.Description = m.Description
			result.Rationale = m.Rationale
			result.FixText = m.FixText
		}
		report.Rules = append(report.Rules, result)
	}

	report.Score = Score(report.Passed, report.Total())
	return report, nil
}

// Outcome is the tally bucket of a rule status.
type Outcome int

const (
	OutcomeOther Outcome = iota
	OutcomePass
	OutcomeFail
)

// Classify maps a lowercased rule status to its bucket.
func Classify(status string) Outcome {
	switch status {
	case "pass":
		return OutcomePass
	case "fail":
		return OutcomeFail
	default:
		return OutcomeOther
	}
}

// Score returns passed/total as a percentage rounded to two decimals, or 0
// when nothing was evaluated.
func Score(passed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(passed)/float64(total)*100*100) / 100
}

func parseFile(path string) (*node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTree(f)
}
