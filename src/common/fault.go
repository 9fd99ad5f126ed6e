package common

import "fmt"

// FaultCategory classifies agent errors for retry and exit-code decisions.
type FaultCategory uint32

const (
	// Transient faults are retried with backoff; they only surface when the
	// retry budget is exhausted.
	Transient FaultCategory = iota
	// Configuration faults come from malformed or inconsistent operator
	// input. They are logged and, where safe, the agent carries on.
	Configuration
	// Corruption faults mean the node's identity or data cannot be trusted.
	// Always fatal.
	Corruption
	// ResourceUnavailable faults mean a required external resource never
	// became usable within its deadline. Always fatal.
	ResourceUnavailable
)

// String ...
func (c FaultCategory) String() string {
	switch c {
	case Transient:
		return "transient"
	case Configuration:
		return "configuration"
	case Corruption:
		return "corruption"
	case ResourceUnavailable:
		return "resource-unavailable"
	default:
		return "unknown"
	}
}

// ExitCode maps a FaultCategory to the agent's process exit status. Each
// category gets a distinct non-zero code so fleet tooling can diagnose
// failures without parsing logs.
func (c FaultCategory) ExitCode() int {
	switch c {
	case Transient:
		return 2
	case Configuration:
		return 3
	case Corruption:
		return 4
	case ResourceUnavailable:
		return 5
	default:
		return 1
	}
}

// Fault is a typed error carrying its category and the boot stage that
// produced it. Lower layers return Faults; the stage orchestrator decides
// retry vs fatal from the category.
type Fault struct {
	category FaultCategory
	stage    string
	err      error
}

// NewFault ...
func NewFault(category FaultCategory, stage string, err error) *Fault {
	return &Fault{
		category: category,
		stage:    stage,
		err:      err,
	}
}

// Error ...
func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.stage, f.category, f.err)
}

// Unwrap ...
func (f *Fault) Unwrap() error {
	return f.err
}

// Category ...
func (f *Fault) Category() FaultCategory {
	return f.category
}

// Stage ...
func (f *Fault) Stage() string {
	return f.stage
}

// IsFault checks that an error is a Fault of the given category.
func IsFault(err error, c FaultCategory) bool {
	fault, ok := err.(*Fault)
	return ok && fault.category == c
}
