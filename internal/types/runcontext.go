package types

import (
	"fmt"
	"strconv"
	"time"
)

// RunContext identifies the CI run a pipeline invocation belongs to. It is
// built once in main from the CI environment and passed explicitly; nothing
// downstream reads run identifiers from globals.
type RunContext struct {
	Owner        string
	Repo         string
	RunID        string
	RunAttempt   int
	Workflow     string
	Job          string
	InvocationID string
}

// Repository returns "owner/repo".
func (rc RunContext) Repository() string {
	return rc.Owner + "/" + rc.Repo
}

// EnvironmentName derives the delay environment name for this run. Names are
// unique per run ID so concurrent runs never share a delay resource.
func (rc RunContext) EnvironmentName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, rc.RunID)
}

// Validate checks that the context carries enough to address the control plane.
func (rc RunContext) Validate() error {
	if rc.Owner == "" || rc.Repo == "" {
		return NewAppError(ErrCodeValidationRepository, "repository owner and name are required", nil)
	}
	if rc.RunID == "" {
		return NewAppError(ErrCodeValidationRunID, "run id is required", nil)
	}
	if _, err := strconv.ParseInt(rc.RunID, 10, 64); err != nil {
		return NewAppError(ErrCodeValidationRunID, fmt.Sprintf("run id %q is not numeric", rc.RunID), err)
	}
	return nil
}

// DelayMarker is stored alongside a delay environment to record that the
// delay was created by this tool, and by which attempt. It lets later
// attempts tell a system-initiated delay apart from a user re-run.
type DelayMarker struct {
	InvocationID string    `json:"invocation_id"`
	RunID        string    `json:"run_id"`
	RunAttempt   int       `json:"run_attempt"`
	DelayMinutes int       `json:"delay_minutes"`
	CreatedAt    time.Time `json:"created_at"`
}

// FromEarlierAttempt reports whether the marker was written by a previous
// attempt of the same run.
func (m DelayMarker) FromEarlierAttempt(rc RunContext) bool {
	return m.RunID == rc.RunID && m.RunAttempt < rc.RunAttempt
}
