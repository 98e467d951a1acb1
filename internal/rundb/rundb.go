// Package rundb persists start/finish records for task executions.
//
// Two interchangeable backends are provided: a relational table managed
// through gorm (sqlite or mysql) and a redis key-value store with one
// JSON document per record. Both expose identical status and timestamp
// semantics so operational tooling can treat them the same.
package rundb

import (
	"sort"
	"time"
)

// Status is the lifecycle state recorded for one task execution.
type Status string

const (
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusException Status = "exception"
	// StatusUnknown names records synthesized for a finish call whose
	// start record could not be found.
	StatusUnknown Status = "unknown"
	// StatusAny is the wildcard filter accepted by GetTasks.
	StatusAny Status = "%"
)

// UnknownTaskName is the task name used for synthesized records.
const UnknownTaskName = "unknown"

// TimeLayout is the single zero-padded layout used for every timestamp
// written by a Store. Lexicographic comparison of two encoded values
// must match chronological order; range filtering depends on it.
const TimeLayout = "2006-01-02 15:04:05"

// NowUTC returns the current time encoded with TimeLayout.
func NowUTC() string {
	return time.Now().UTC().Format(TimeLayout)
}

// DefaultTemplate is the rendering template recorded when the caller
// does not name one.
const DefaultTemplate = "generic_task_result"

// Record is one persisted task execution.
type Record struct {
	ID            string `json:"task_id"`
	TaskName      string `json:"task_name"`
	StartUTC      string `json:"task_start_utc"`
	EndUTC        string `json:"task_end_utc,omitempty"`
	Status        Status `json:"task_status"`
	ReturnValue   string `json:"return_value,omitempty"`
	JSONBlob      string `json:"structured_payload,omitempty"`
	SecondaryBlob []byte `json:"secondary_payload,omitempty"`
	Template      string `json:"template,omitempty"`
}

// Store is the run-record persistence interface.
//
// A Store handle is not assumed safe for concurrent writers; each
// execution context should open its own handle.
type Store interface {
	// RecordTaskStart inserts a record with StatusStarted and the
	// current UTC time and returns its id. The redis backend rejects
	// empty names and names carrying the reserved internal prefix with
	// an InvalidNameError.
	RecordTaskStart(taskName, template string) (string, error)

	// RecordTaskFinish stamps the end time, status, return value and
	// payload blobs onto an existing started record. Finishing a record
	// twice fails with AlreadyFinishedError and leaves the first finish
	// intact. Finishing an id with no start record does not fail: the
	// store synthesizes a fresh record named UnknownTaskName so the
	// finish data is never dropped, and logs the anomaly.
	RecordTaskFinish(id, returnValue string, status Status, jsonBlob string, secondaryBlob []byte) error

	// DeleteTask removes a record. Deleting a missing id is not an error.
	DeleteTask(id string) error

	// GetTask returns the record with the given id, or nil if absent.
	GetTask(id string) (*Record, error)

	// GetLatest returns the most recent record for a task name, ordered
	// by end time then start time, or nil if the name has never run.
	GetLatest(taskName string) (*Record, error)

	// GetTasks returns records matching the status filter (StatusAny
	// matches everything) whose start time lies inside the inclusive
	// [startUTC, endUTC] range. Empty bounds are open ends.
	GetTasks(status Status, startUTC, endUTC string) ([]Record, error)

	// Close releases the underlying connection.
	Close() error
}

// effectiveTime is the recency key for a record: the end time once the
// record has one, otherwise the start time. A still-running execution
// ranks by when it began instead of sorting behind every finished run.
func effectiveTime(r *Record) string {
	if r.EndUTC != "" {
		return r.EndUTC
	}
	return r.StartUTC
}

// LimitTaskCount sorts records newest first and caps the result at
// limit. Sorting happens before truncation so the most recent runs
// survive the cut; limit <= 0 means no cap.
func LimitTaskCount(records []Record, limit int) []Record {
	sort.Slice(records, func(i, j int) bool {
		ti, tj := effectiveTime(&records[i]), effectiveTime(&records[j])
		if ti != tj {
			return ti > tj
		}
		if records[i].StartUTC != records[j].StartUTC {
			return records[i].StartUTC > records[j].StartUTC
		}
		return records[i].ID > records[j].ID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
