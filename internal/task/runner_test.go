package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-scheduler-service/internal/rundb"
)

// fakeStore records every call so the execution contract can be checked
// without a real database.
type fakeStore struct {
	nextID   int
	records  map[string]*rundb.Record
	startErr error
	closed   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*rundb.Record)}
}

func (f *fakeStore) RecordTaskStart(taskName, template string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	f.records[id] = &rundb.Record{
		ID:       id,
		TaskName: taskName,
		StartUTC: rundb.NowUTC(),
		Status:   rundb.StatusStarted,
		Template: template,
	}
	return id, nil
}

func (f *fakeStore) RecordTaskFinish(id, returnValue string, status rundb.Status, jsonBlob string, secondaryBlob []byte) error {
	rec, ok := f.records[id]
	if !ok {
		return fmt.Errorf("no record %s", id)
	}
	if rec.Status == rundb.StatusFinished {
		return &rundb.AlreadyFinishedError{ID: id}
	}
	rec.EndUTC = rundb.NowUTC()
	rec.Status = status
	rec.ReturnValue = returnValue
	rec.JSONBlob = jsonBlob
	rec.SecondaryBlob = secondaryBlob
	return nil
}

func (f *fakeStore) DeleteTask(id string) error { delete(f.records, id); return nil }

func (f *fakeStore) GetTask(id string) (*rundb.Record, error) { return f.records[id], nil }

func (f *fakeStore) GetLatest(string) (*rundb.Record, error) { return nil, nil }

func (f *fakeStore) GetTasks(rundb.Status, string, string) ([]rundb.Record, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { f.closed = true; return nil }

type recordedEvent struct {
	name, id string
	status   rundb.Status
}

type fakeNotifier struct {
	started  []recordedEvent
	finished []recordedEvent
}

func (n *fakeNotifier) TaskStarted(taskName, recordID string) {
	n.started = append(n.started, recordedEvent{name: taskName, id: recordID})
}

func (n *fakeNotifier) TaskFinished(taskName, recordID string, status rundb.Status, returnValue string) {
	n.finished = append(n.finished, recordedEvent{name: taskName, id: recordID, status: status})
}

func harnessOver(t *testing.T, store *fakeStore, taskType string, fn RunnerFunc) (*Harness, *fakeNotifier) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(taskType, fn))
	notifier := &fakeNotifier{}
	h := NewHarness(registry, func() (rundb.Store, error) { return store, nil }, notifier)
	return h, notifier
}

func TestHarnessRecordsSuccessfulRun(t *testing.T) {
	store := newFakeStore()
	h, notifier := harnessOver(t, store, "echo", func(ctx context.Context, tk *Task) (any, error) {
		return &Result{ReturnValue: "done", JSONBlob: `{"n":1}`}, nil
	})

	tk := New("nightly_build", "echo")
	require.NoError(t, h.Run(context.Background(), tk))
	require.NotEmpty(t, tk.RunRecordID)

	rec := store.records[tk.RunRecordID]
	require.NotNil(t, rec)
	assert.Equal(t, rundb.StatusFinished, rec.Status)
	assert.Equal(t, "done", rec.ReturnValue)
	assert.Equal(t, `{"n":1}`, rec.JSONBlob)
	assert.True(t, store.closed)

	require.Len(t, notifier.started, 1)
	require.Len(t, notifier.finished, 1)
	assert.Equal(t, rundb.StatusFinished, notifier.finished[0].status)
}

func TestHarnessAcceptsPlainStringResult(t *testing.T) {
	store := newFakeStore()
	h, _ := harnessOver(t, store, "echo", func(ctx context.Context, tk *Task) (any, error) {
		return "plain", nil
	})

	tk := New("nightly_build", "echo")
	require.NoError(t, h.Run(context.Background(), tk))
	assert.Equal(t, "plain", store.records[tk.RunRecordID].ReturnValue)
}

func TestHarnessRecordsExceptionAndReturnsError(t *testing.T) {
	store := newFakeStore()
	boom := errors.New("boom")
	h, notifier := harnessOver(t, store, "failing", func(ctx context.Context, tk *Task) (any, error) {
		return nil, boom
	})

	tk := New("nightly_build", "failing")
	err := h.Run(context.Background(), tk)
	require.ErrorIs(t, err, boom)

	rec := store.records[tk.RunRecordID]
	require.NotNil(t, rec)
	assert.Equal(t, rundb.StatusException, rec.Status)
	assert.Equal(t, "boom", rec.ReturnValue)

	require.Len(t, notifier.finished, 1)
	assert.Equal(t, rundb.StatusException, notifier.finished[0].status)
}

func TestHarnessRecordsPanicThenRepanics(t *testing.T) {
	store := newFakeStore()
	h, _ := harnessOver(t, store, "panicking", func(ctx context.Context, tk *Task) (any, error) {
		panic("blew up")
	})

	tk := New("nightly_build", "panicking")
	assert.PanicsWithValue(t, "blew up", func() {
		_ = h.Run(context.Background(), tk)
	})

	rec := store.records[tk.RunRecordID]
	require.NotNil(t, rec)
	assert.Equal(t, rundb.StatusException, rec.Status)
	assert.Equal(t, "blew up", rec.ReturnValue)
}

func TestHarnessRejectsMalformedResultUnrecorded(t *testing.T) {
	store := newFakeStore()
	h, _ := harnessOver(t, store, "bad", func(ctx context.Context, tk *Task) (any, error) {
		return 42, nil
	})

	tk := New("nightly_build", "bad")
	err := h.Run(context.Background(), tk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad result")

	// The start record stays open; the malformed value is a runner bug,
	// not a task outcome.
	rec := store.records[tk.RunRecordID]
	require.NotNil(t, rec)
	assert.Equal(t, rundb.StatusStarted, rec.Status)
}

func TestHarnessPanicsOnReusedTaskInstance(t *testing.T) {
	store := newFakeStore()
	h, _ := harnessOver(t, store, "echo", func(ctx context.Context, tk *Task) (any, error) {
		return "ok", nil
	})

	tk := New("nightly_build", "echo")
	tk.RunRecordID = "stale"
	assert.Panics(t, func() {
		_ = h.Run(context.Background(), tk)
	})
}

func TestHarnessUnknownTypeRecordsException(t *testing.T) {
	store := newFakeStore()
	h, _ := harnessOver(t, store, "echo", func(ctx context.Context, tk *Task) (any, error) {
		return "ok", nil
	})

	tk := New("nightly_build", "no_such_type")
	err := h.Run(context.Background(), tk)
	require.Error(t, err)

	rec := store.records[tk.RunRecordID]
	require.NotNil(t, rec)
	assert.Equal(t, rundb.StatusException, rec.Status)
}

func TestCloneIsolatesCopies(t *testing.T) {
	original := New("nightly_build", "echo")
	original.Params = []byte(`{"branch":"main"}`)
	original.RunRecordID = "42"

	clone := original.Clone(CopySuffix)
	assert.Equal(t, "nightly_build_copy", clone.Name)
	assert.Empty(t, clone.RunRecordID)

	clone.Params[2] = 'x'
	assert.Equal(t, json.RawMessage(`{"branch":"main"}`), original.Params)

	fresh := original.Clone("")
	assert.Equal(t, "nightly_build", fresh.Name)
	assert.Empty(t, fresh.RunRecordID)
}
