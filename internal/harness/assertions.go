package harness

import (
	"fmt"
	"os"
	"strings"

	"github.com/roach88/corrharness/internal/inject"
)

// AssertionError is returned when an assertion fails.
// It includes the injection trace to help debug the failure.
type AssertionError struct {
	Type       string          // Assertion type for categorization
	Expected   string          // Human-readable expected outcome
	Actual     string          // Human-readable actual outcome
	Injections []inject.Record // Injection trace for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Injections) > 0 {
		fmt.Fprintf(&buf, "\nInjection trace:\n")
		for i, rec := range e.Injections {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, rec.Artifact.Name, rec.Outcome)
		}
	}

	return buf.String()
}

// assertInjected checks that the engine accepted the artifact.
func assertInjected(res *Result, a Assertion) error {
	for _, rec := range res.Injections {
		if rec.Artifact.Name != a.Artifact {
			continue
		}
		if rec.Outcome == inject.OutcomeInjected {
			return nil
		}
		return &AssertionError{
			Type:       AssertInjected,
			Expected:   fmt.Sprintf("%s injected", a.Artifact),
			Actual:     fmt.Sprintf("outcome %s", rec.Outcome),
			Injections: res.Injections,
		}
	}
	return &AssertionError{
		Type:       AssertInjected,
		Expected:   fmt.Sprintf("%s injected", a.Artifact),
		Actual:     "not found in injection trace",
		Injections: res.Injections,
	}
}

// assertInjectionOrder checks that artifacts were injected in the given
// relative order. Other artifacts may appear in between.
func assertInjectionOrder(res *Result, a Assertion) error {
	positions := make(map[string]int)
	for i, rec := range res.Injections {
		if rec.Outcome != inject.OutcomeInjected {
			continue
		}
		if _, ok := positions[rec.Artifact.Name]; !ok {
			positions[rec.Artifact.Name] = i + 1 // 1-indexed for readability
		}
	}

	for _, name := range a.Artifacts {
		if positions[name] == 0 {
			return &AssertionError{
				Type:       AssertInjectionOrder,
				Expected:   fmt.Sprintf("all artifacts injected: %v", a.Artifacts),
				Actual:     fmt.Sprintf("missing artifact: %s", name),
				Injections: res.Injections,
			}
		}
	}

	for i := 1; i < len(a.Artifacts); i++ {
		prev, curr := a.Artifacts[i-1], a.Artifacts[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertInjectionOrder,
				Expected: fmt.Sprintf("artifacts in order: %v", a.Artifacts),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Injections: res.Injections,
			}
		}
	}
	return nil
}

// assertEvidenceCount checks the exact number of evidence lines.
func assertEvidenceCount(res *Result, a Assertion) error {
	if len(res.Evidence) != *a.Count {
		return &AssertionError{
			Type:       AssertEvidenceCount,
			Expected:   fmt.Sprintf("%d evidence lines", *a.Count),
			Actual:     fmt.Sprintf("%d evidence lines", len(res.Evidence)),
			Injections: res.Injections,
		}
	}
	return nil
}

// assertEvidenceFrom checks that some evidence is attributed to the artifact.
func assertEvidenceFrom(res *Result, a Assertion) error {
	if len(res.EvidenceFrom(a.Artifact)) > 0 {
		return nil
	}
	sources := make([]string, 0, len(res.Evidence))
	for _, ev := range res.Evidence {
		sources = append(sources, ev.Source)
	}
	return &AssertionError{
		Type:       AssertEvidenceFrom,
		Expected:   fmt.Sprintf("evidence attributed to %s", a.Artifact),
		Actual:     fmt.Sprintf("evidence sources %v", sources),
		Injections: res.Injections,
	}
}

// assertLogContains checks that the text appears somewhere in the log.
func assertLogContains(res *Result, a Assertion) error {
	data, err := os.ReadFile(res.LogPath)
	if err != nil {
		return fmt.Errorf("log_contains: %w", err)
	}
	if !strings.Contains(string(data), a.Text) {
		return &AssertionError{
			Type:     AssertLogContains,
			Expected: fmt.Sprintf("log contains %q", a.Text),
			Actual:   "not found",
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(res *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertInjected:
			err = assertInjected(res, a)
		case AssertInjectionOrder:
			err = assertInjectionOrder(res, a)
		case AssertEvidenceCount:
			if a.Count == nil {
				err = fmt.Errorf("assertion[%d]: evidence_count without count", i)
			} else {
				err = assertEvidenceCount(res, a)
			}
		case AssertEvidenceFrom:
			err = assertEvidenceFrom(res, a)
		case AssertLogContains:
			err = assertLogContains(res, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
