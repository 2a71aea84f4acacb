package domain

import (
	"fmt"
	"time"
)

// StrictTrackingViolation signals a versioned write attempted while strict
// tracking is enabled and no extra-change-info scope is active. The flush
// aborts before any snapshot row is written.
type StrictTrackingViolation struct{}

func (e *StrictTrackingViolation) Error() string {
	return "strict tracking is enabled and no extra change info scope is active; " +
		"wrap the mutation in session.WithExtraChangeInfo before flushing"
}

// HistoryMutationRejected signals an attempt to delete or modify an activity
// row without the allow-deleting-history scope.
type HistoryMutationRejected struct {
	TableName string
	Version   int64
}

func (e *HistoryMutationRejected) Error() string {
	return fmt.Sprintf(
		"activity rows are append-only: deleting %s version %d requires the allow-deleting-history scope",
		e.TableName, e.Version,
	)
}

// UntrackedFieldAccess signals a read of a field that was excluded from
// tracking entirely, so no snapshot ever recorded it.
type UntrackedFieldAccess struct {
	Field string
}

func (e *UntrackedFieldAccess) Error() string {
	return fmt.Sprintf("field %q is explicitly untracked and was never snapshotted", e.Field)
}

// HiddenFieldAccess signals a read of a field whose changes are tracked but
// whose values are redacted from snapshots.
type HiddenFieldAccess struct {
	Field string
}

func (e *HiddenFieldAccess) Error() string {
	return fmt.Sprintf("field %q is hidden; snapshots record that it changed but never its value", e.Field)
}

// FieldNotFound signals a read of a field that is simply absent from a
// snapshot, as opposed to being absent by policy.
type FieldNotFound struct {
	Field string
}

func (e *FieldNotFound) Error() string {
	return fmt.Sprintf("snapshot has no field %q", e.Field)
}

// ChronologyViolation signals a diff or range query whose bounds run
// backwards in time.
type ChronologyViolation struct {
	From time.Time
	To   time.Time
}

func (e *ChronologyViolation) Error() string {
	return fmt.Sprintf("diffs must be chronological: to %s predates from %s",
		e.To.Format(time.RFC3339), e.From.Format(time.RFC3339))
}

// MissingVersionColumn signals a legacy migration attempted on a table that
// has no version column, so per-entity version numbering cannot be derived.
type MissingVersionColumn struct {
	Table string
}

func (e *MissingVersionColumn) Error() string {
	return fmt.Sprintf("table %q has no version column; cannot derive version numbering", e.Table)
}
