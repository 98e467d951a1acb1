package events

// TaskStartedPayload is published when an execution records its start.
type TaskStartedPayload struct {
	TaskName string `json:"task_name"`
	RecordID string `json:"record_id"`
	StartUTC string `json:"start_utc"`
}

// TaskFinishedPayload is published when an execution records its
// finish, successful or not.
type TaskFinishedPayload struct {
	TaskName    string `json:"task_name"`
	RecordID    string `json:"record_id"`
	Status      string `json:"status"`
	ReturnValue string `json:"return_value,omitempty"`
	EndUTC      string `json:"end_utc"`
}
