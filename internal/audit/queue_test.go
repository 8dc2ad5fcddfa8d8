package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type stubWriter struct {
	events []Event
	err    error
}

func (s *stubWriter) Write(ctx context.Context, e Event) error {
	s.events = append(s.events, e)
	return s.err
}

func TestQueueSinkEnqueuesEvent(t *testing.T) {
	client := &stubEnqueuer{}
	sink := NewQueueSink(client, "", nil)

	sink.Record(context.Background(), RoleEvent(1, EventRoleProvisioned, "api", "admin", []string{"audit.index"}))
	sink.Flush()

	require.Len(t, client.tasks, 1)
	assert.Equal(t, TaskTypeRecord, client.tasks[0].Type())

	var decoded Event
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &decoded))
	assert.Equal(t, "admin", decoded.EntityID)
	assert.Equal(t, []string{"audit.index"}, decoded.Permissions)
	assert.NotEmpty(t, decoded.ID)
	assert.False(t, decoded.At.IsZero())
}

func TestQueueSinkSwallowsEnqueueFailure(t *testing.T) {
	client := &stubEnqueuer{err: errors.New("redis down")}
	sink := NewQueueSink(client, QueueAudit, nil)
	var failed []string
	sink.OnFailure(func(name string) { failed = append(failed, name) })

	assert.NotPanics(t, func() {
		sink.Record(context.Background(), UserEvent(1, EventUserRemoved, "api", "5", nil))
		sink.Flush()
	})
	assert.Empty(t, client.tasks)
	assert.Equal(t, []string{"queue"}, failed)
}

func TestDirectSinkReportsWriteFailure(t *testing.T) {
	writer := &stubWriter{err: errors.New("db down")}
	var failed []string
	sink := DirectSink{Writer: writer, OnFailure: func(name string) { failed = append(failed, name) }}

	sink.Record(context.Background(), RoleEvent(2, EventRoleDeleted, "api", "editor", nil))

	require.Len(t, writer.events, 1)
	assert.Equal(t, []string{"direct"}, failed)
}

func TestRecordHandlerWritesEvent(t *testing.T) {
	writer := &stubWriter{}
	task, err := NewRecordTask(UserEvent(3, EventRolesAssigned, "api", "9", []string{"tech"}))
	require.NoError(t, err)

	require.NoError(t, NewRecordHandler(writer)(context.Background(), task))
	require.Len(t, writer.events, 1)
	assert.Equal(t, int64(3), writer.events[0].ActorID)
	assert.Equal(t, []string{"tech"}, writer.events[0].Roles)
}

func TestRecordHandlerSkipsRetryOnBadPayload(t *testing.T) {
	writer := &stubWriter{}
	err := NewRecordHandler(writer)(context.Background(), asynq.NewTask(TaskTypeRecord, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, writer.events)
}

func TestRecordHandlerPropagatesWriteError(t *testing.T) {
	writer := &stubWriter{err: errors.New("db down")}
	task, err := NewRecordTask(UserEvent(0, EventUserRemoved, "api", "2", nil))
	require.NoError(t, err)
	err = NewRecordHandler(writer)(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
