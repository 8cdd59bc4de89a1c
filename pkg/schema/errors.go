package schema

import "fmt"

// MissingStepError reports a version index inside a planned migration
// range that has no registered step. This is a fatal configuration
// inconsistency: the runner aborts the whole batch rather than skipping
// the index.
type MissingStepError struct {
	Index int
}

func (e *MissingStepError) Error() string {
	return fmt.Sprintf("no migration step defined for version %d", e.Index)
}

// MigrationError reports a step that failed while being applied. The
// recorded schema version is never advanced past a failed batch, so a
// retry resumes from the previously installed version.
type MigrationError struct {
	Version   int
	Direction string
	Err       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration step %d (%s) failed: %v", e.Version, e.Direction, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
