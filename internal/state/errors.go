package state

import (
	"errors"
	"fmt"
	"strings"
)

// PluginErrorKind enumerates registration-time and scheduling failures
// attributable to a specific plugin or plugin graph.
type PluginErrorKind int

const (
	CycleDetected PluginErrorKind = iota
	MissingDependency
	Conflict
	AppendLoopBudgetExceeded
)

func (k PluginErrorKind) String() string {
	switch k {
	case CycleDetected:
		return "CycleDetected"
	case MissingDependency:
		return "MissingDependency"
	case Conflict:
		return "Conflict"
	case AppendLoopBudgetExceeded:
		return "AppendLoopBudgetExceeded"
	default:
		return "Unknown"
	}
}

// PluginError reports a plugin graph violation (at Finalize) or a plugin
// exceeding its append budget (during Apply).
type PluginError struct {
	Kind PluginErrorKind
	// PluginKey names the offending plugin for MissingDependency and
	// AppendLoopBudgetExceeded.
	PluginKey string
	// Path holds the dependency cycle for CycleDetected.
	Path []string
	// Dependency is the missing name for MissingDependency.
	Dependency string
	// Other names the second party of a Conflict.
	Other string
}

func (e *PluginError) Error() string {
	switch e.Kind {
	case CycleDetected:
		return fmt.Sprintf("plugin: dependency cycle: %s", strings.Join(e.Path, " -> "))
	case MissingDependency:
		return fmt.Sprintf("plugin: %s requires missing dependency %q", e.PluginKey, e.Dependency)
	case Conflict:
		return fmt.Sprintf("plugin: %s conflicts with %s", e.PluginKey, e.Other)
	case AppendLoopBudgetExceeded:
		return fmt.Sprintf("plugin: %s exceeded its append budget for one dispatch", e.PluginKey)
	default:
		return "plugin: unknown error"
	}
}

// ApplyErrorKind enumerates the ways State.Apply can fail. In every case
// the receiving State is unchanged; Apply never returns a partial result.
type ApplyErrorKind int

const (
	FilteredOut ApplyErrorKind = iota
	ApplyTimeout
	StepApplyFailed
	PluginFailed
)

func (k ApplyErrorKind) String() string {
	switch k {
	case FilteredOut:
		return "FilteredOut"
	case ApplyTimeout:
		return "ApplyTimeout"
	case StepApplyFailed:
		return "StepApplyFailed"
	case PluginFailed:
		return "PluginFailed"
	default:
		return "Unknown"
	}
}

// ApplyError is the single error type State.Apply returns; Err wraps the
// underlying step.Error or PluginError where one exists.
type ApplyError struct {
	Kind      ApplyErrorKind
	PluginKey string
	Err       error
}

func (e *ApplyError) Error() string {
	switch {
	case e.Kind == FilteredOut:
		return fmt.Sprintf("apply: transaction filtered out by plugin %s", e.PluginKey)
	case e.PluginKey != "" && e.Err != nil:
		return fmt.Sprintf("apply: %s (plugin %s): %v", e.Kind, e.PluginKey, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("apply: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("apply: %s", e.Kind)
	}
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// IsFilteredOut reports whether err is an ApplyError of kind FilteredOut
// and, if so, which plugin vetoed the transaction.
func IsFilteredOut(err error) (string, bool) {
	var ae *ApplyError
	if errors.As(err, &ae) && ae.Kind == FilteredOut {
		return ae.PluginKey, true
	}
	return "", false
}
