package policy

import "time"

// Severity is the severity of a policy violation.
type Severity string

const (
	// SeverityWarning is reported but does not block generation.
	SeverityWarning Severity = "warning"

	// SeverityError blocks generation.
	SeverityError Severity = "error"
)

// Policy is a Rego module with a deny rule.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// Rego is the policy source. Its package must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity of the violations it reports.
	Severity Severity `json:"severity"`

	// Enabled indicates whether the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Input is the document policies are evaluated against.
type Input struct {
	// Template is the absolute path of the template being generated.
	Template string `json:"template"`

	// Strict asks the built-in policies to confine references to Roots.
	Strict bool `json:"strict"`

	// Roots are the directories by-path references may point into, with
	// forward slashes.
	Roots []string `json:"roots"`

	// References are the normalized library references of the template.
	References []ReferenceInput `json:"references"`
}

// ReferenceInput describes one library reference.
type ReferenceInput struct {
	// Raw is the reference as written.
	Raw string `json:"raw"`

	// Resolved is the absolute path with forward slashes for by-path
	// references and the logical name otherwise.
	Resolved string `json:"resolved"`

	// ByPath reports whether the reference names a file.
	ByPath bool `json:"by_path"`
}

// Violation is one deny result.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Reference is the raw reference at fault, if any.
	Reference string `json:"reference,omitempty"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Severity is the violation severity.
	Severity Severity `json:"severity"`
}

// Blocking reports whether the violation prevents generation.
func (v Violation) Blocking() bool {
	return v.Severity != SeverityWarning
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when a blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists every violation, blocking or not, in policy order.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of the evaluated policies.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}
