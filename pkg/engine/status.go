package engine

import (
	"fmt"
	"strings"
)

// State is a step of the run state machine.
type State string

const (
	// StateConfigReady indicates configuration was loaded.
	StateConfigReady State = "config_ready"

	// StateProducersRefreshed indicates every enabled producer was refreshed
	// or explicitly skipped.
	StateProducersRefreshed State = "producers_refreshed"

	// StateSyncing indicates the metric source adapter is running.
	StateSyncing State = "syncing"

	// StateReportFresh indicates the adapter produced a new stats document.
	StateReportFresh State = "report_fresh"

	// StateDuplicateDetected indicates a report for today already exists.
	StateDuplicateDetected State = "duplicate_detected"

	// StateRendering indicates the renderer is running.
	StateRendering State = "rendering"

	// StateDone indicates the run completed.
	StateDone State = "done"

	// StateFailed is absorbing and reachable from any state.
	StateFailed State = "failed"

	// StateCancelled indicates the user declined to resolve a duplicate day.
	StateCancelled State = "cancelled"
)

// IsTerminal returns true if no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Validate checks if the state is valid.
func (s State) Validate() error {
	switch s {
	case StateConfigReady, StateProducersRefreshed, StateSyncing, StateReportFresh,
		StateDuplicateDetected, StateRendering, StateDone, StateFailed, StateCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}

// RunStatus is the persisted status of a run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled at the duplicate prompt.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// StatusForState maps a terminal state to the persisted run status.
func StatusForState(s State) RunStatus {
	switch s {
	case StateDone:
		return RunStatusSucceeded
	case StateFailed:
		return RunStatusFailed
	case StateCancelled:
		return RunStatusCancelled
	default:
		return RunStatusRunning
	}
}

// Resolution is how a duplicate-day collision is resolved.
type Resolution string

const (
	// ResolutionNone means no resolution was chosen up front.
	ResolutionNone Resolution = ""

	// ResolutionNewReport generates an additional report for today.
	ResolutionNewReport Resolution = "new"

	// ResolutionOverwrite replaces today's existing report.
	ResolutionOverwrite Resolution = "overwrite"

	// ResolutionCancel stops the run with no changes.
	ResolutionCancel Resolution = "cancel"
)

// Validate checks if the resolution is valid.
func (r Resolution) Validate() error {
	switch r {
	case ResolutionNone, ResolutionNewReport, ResolutionOverwrite, ResolutionCancel:
		return nil
	default:
		return fmt.Errorf("invalid resolution: %s", r)
	}
}

// AdapterFlag returns the adapter mode flag that applies the resolution.
func (r Resolution) AdapterFlag() string {
	switch r {
	case ResolutionNewReport:
		return FlagAllowSameDay
	case ResolutionOverwrite:
		return FlagOverwriteToday
	default:
		return ""
	}
}

// Adapter mode flags.
const (
	FlagOverwriteToday = "--overwrite-today"
	FlagAllowSameDay   = "--allow-same-day"
	FlagSyncOnly       = "--sync-only"
	FlagNoSync         = "--no-sync"
)

// Choice is the validated answer to the duplicate-day prompt.
type Choice int

const (
	// ChoiceInvalid means the input was not understood.
	ChoiceInvalid Choice = iota
	// ChoiceNewReport generates an additional report.
	ChoiceNewReport
	// ChoiceOverwrite replaces today's report.
	ChoiceOverwrite
	// ChoiceCancel stops the run.
	ChoiceCancel
)

// String returns the choice name.
func (c Choice) String() string {
	switch c {
	case ChoiceNewReport:
		return "new"
	case ChoiceOverwrite:
		return "overwrite"
	case ChoiceCancel:
		return "cancel"
	default:
		return "invalid"
	}
}

// Resolution converts the choice; ChoiceInvalid has none.
func (c Choice) Resolution() Resolution {
	switch c {
	case ChoiceNewReport:
		return ResolutionNewReport
	case ChoiceOverwrite:
		return ResolutionOverwrite
	case ChoiceCancel:
		return ResolutionCancel
	default:
		return ResolutionNone
	}
}

// ParseChoice validates one line of prompt input. It accepts the option
// number or its name; an empty answer or "no" cancels.
func ParseChoice(input string) Choice {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "new", "another":
		return ChoiceNewReport
	case "2", "overwrite", "replace":
		return ChoiceOverwrite
	case "", "3", "c", "cancel", "q", "quit", "n", "no":
		return ChoiceCancel
	default:
		return ChoiceInvalid
	}
}
