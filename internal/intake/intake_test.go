package intake

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mockpkg "github.com/crash-analysis/internal/mock"
	apperrors "github.com/crash-analysis/pkg/errors"
	"github.com/crash-analysis/pkg/model"
)

// acker records how a delivery was settled.
type acker struct {
	acked, requeued, rejected int
}

func (a *acker) Ack(uint64, bool) error { a.acked++; return nil }

func (a *acker) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		a.requeued++
	} else {
		a.rejected++
	}
	return nil
}

func (a *acker) Reject(uint64, bool) error { a.rejected++; return nil }

func delivery(a *acker, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: a, DeliveryTag: 1, Body: []byte(body)}
}

func TestDecodeMessage(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"uuid":"u-1","platform":"Windows NT","minidump":"u-1/crash.dmp","extra":"u-1/crash.extra","product":"Crashy","options":{"all_threads":true}}`))
	require.NoError(t, err)

	task := msg.Task()
	assert.Equal(t, "u-1", task.TaskUUID)
	assert.Equal(t, model.PlatformWindows, task.Platform)
	assert.Equal(t, "u-1/crash.dmp", task.DumpKey)
	assert.Equal(t, "u-1/crash.extra", task.ExtraKey)
	assert.Equal(t, "Crashy", task.Product)
	assert.True(t, task.Options.AllThreads)
	assert.Equal(t, model.AnalysisStatusPending, task.AnalysisStatus)
}

func TestDecodeMessage_GeneratesUUID(t *testing.T) {
	a, err := DecodeMessage([]byte(`{"minidump":"k"}`))
	require.NoError(t, err)
	b, err := DecodeMessage([]byte(`{"minidump":"k"}`))
	require.NoError(t, err)
	assert.Len(t, a.UUID, 36)
	assert.NotEqual(t, a.UUID, b.UUID)
}

func TestDecodeMessage_Invalid(t *testing.T) {
	for _, body := range []string{`not json`, `{}`, `{"minidump":"  "}`, `{"minidump":"k","options":{"priority":"yes"}}`} {
		_, err := DecodeMessage([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidMessage, body)
	}
}

func TestConsumer_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesTask", func(t *testing.T) {
		tasks := &mockpkg.MockTaskRepository{}
		tasks.ExpectGetTaskByUUID("u-1", nil, apperrors.ErrNotFound)
		tasks.ExpectCreateTask(nil).Run(func(args mock.Arguments) {
			task := args.Get(1).(*model.CrashTask)
			assert.Equal(t, "u-1", task.TaskUUID)
			assert.Equal(t, "k", task.DumpKey)
		})
		a := &acker{}

		require.NoError(t, NewConsumer(tasks, nil).Handle(ctx, delivery(a, `{"uuid":"u-1","minidump":"k"}`)))
		assert.Equal(t, 1, a.acked)
		tasks.AssertExpectations(t)
	})

	t.Run("RejectsMalformed", func(t *testing.T) {
		tasks := &mockpkg.MockTaskRepository{}
		a := &acker{}

		require.NoError(t, NewConsumer(tasks, nil).Handle(ctx, delivery(a, `{"uuid":"u-2"}`)))
		assert.Equal(t, 1, a.rejected)
		assert.Zero(t, a.acked+a.requeued)
		tasks.AssertNotCalled(t, "CreateTask", mock.Anything, mock.Anything)
	})

	t.Run("AcksRedelivery", func(t *testing.T) {
		tasks := &mockpkg.MockTaskRepository{}
		tasks.ExpectGetTaskByUUID("u-3", &model.CrashTask{ID: 3, TaskUUID: "u-3"}, nil)
		a := &acker{}

		require.NoError(t, NewConsumer(tasks, nil).Handle(ctx, delivery(a, `{"uuid":"u-3","minidump":"k"}`)))
		assert.Equal(t, 1, a.acked)
		tasks.AssertNotCalled(t, "CreateTask", mock.Anything, mock.Anything)
	})

	t.Run("RequeuesDatabaseErrors", func(t *testing.T) {
		tasks := &mockpkg.MockTaskRepository{}
		tasks.ExpectGetTaskByUUID("u-4", nil, apperrors.ErrNotFound)
		tasks.ExpectCreateTask(apperrors.ErrDatabaseError)
		a := &acker{}

		require.NoError(t, NewConsumer(tasks, nil).Handle(ctx, delivery(a, `{"uuid":"u-4","minidump":"k"}`)))
		assert.Equal(t, 1, a.requeued)
	})

	t.Run("RequeuesLookupErrors", func(t *testing.T) {
		tasks := &mockpkg.MockTaskRepository{}
		tasks.ExpectGetTaskByUUID("u-5", nil, apperrors.ErrDatabaseError)
		a := &acker{}

		require.NoError(t, NewConsumer(tasks, nil).Handle(ctx, delivery(a, `{"uuid":"u-5","minidump":"k"}`)))
		assert.Equal(t, 1, a.requeued)
	})
}

func TestConsumer_Run(t *testing.T) {
	tasks := &mockpkg.MockTaskRepository{}
	tasks.ExpectGetTaskByUUID("u-1", nil, apperrors.ErrNotFound)
	tasks.ExpectCreateTask(nil)
	c := NewConsumer(tasks, nil)

	t.Run("ClosedChannel", func(t *testing.T) {
		ch := make(chan amqp.Delivery, 1)
		a := &acker{}
		ch <- delivery(a, `{"uuid":"u-1","minidump":"k"}`)
		close(ch)

		assert.ErrorIs(t, c.Run(context.Background(), ch), ErrDeliveriesClosed)
		assert.Equal(t, 1, a.acked)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Run(ctx, make(chan amqp.Delivery)) }()
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})
}

type publishCall struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	calls []publishCall
	err   error
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.calls = append(f.calls, publishCall{exchange, key, msg})
	return f.err
}

func TestPublisher_Analyzed(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "crash-analyzed")
	rec := &model.CrashReport{TaskUUID: "u-1", Status: "OK", CrashType: "SIGSEGV", Fingerprint: "fp", DuplicateOf: "u-0"}

	require.NoError(t, p.Analyzed(context.Background(), rec))
	require.Len(t, ch.calls, 1)
	call := ch.calls[0]
	assert.Equal(t, "crash-analyzed", call.exchange)
	assert.Equal(t, RoutingKey, call.key)
	assert.Equal(t, "u-1", call.msg.MessageId)
	assert.Equal(t, amqp.Persistent, call.msg.DeliveryMode)

	var got model.CrashReport
	require.NoError(t, json.Unmarshal(call.msg.Body, &got))
	assert.Equal(t, "SIGSEGV", got.CrashType)
	assert.Equal(t, "u-0", got.DuplicateOf)

	ch.err = errors.New("channel closed")
	assert.Error(t, p.Analyzed(context.Background(), rec))
}
