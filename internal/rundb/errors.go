package rundb

import "fmt"

// ReservedNamePrefix marks names reserved for internal bookkeeping.
// The redis backend derives record ids from task names, so a task named
// with this prefix could collide with internal index keys.
const ReservedNamePrefix = "__internal"

// InvalidNameError reports a task name the store refuses to record.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid task name %q: %s", e.Name, e.Reason)
}

// AlreadyFinishedError reports a second finish call for a record id.
// A duplicate finish usually means the queue delivered a job twice or
// two callers share one record id; overwriting would destroy the first
// result, so the store refuses.
type AlreadyFinishedError struct {
	ID string
}

func (e *AlreadyFinishedError) Error() string {
	return fmt.Sprintf("record %s is already finished", e.ID)
}

// CorruptIDSpaceError reports a finish that matched more than one row.
// This can only happen when the backing table's id column has lost
// uniqueness, which is unrecoverable at this layer.
type CorruptIDSpaceError struct {
	ID   string
	Rows int64
}

func (e *CorruptIDSpaceError) Error() string {
	return fmt.Sprintf("finish of record %s touched %d rows; id space is corrupt", e.ID, e.Rows)
}
