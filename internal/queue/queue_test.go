package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	out, err := q.Consume(ctx)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]int{"id": 1})
	require.NoError(t, q.Publish(ctx, Message{Type: "attendance", Body: body}))

	select {
	case msg := <-out:
		assert.Equal(t, "attendance", msg.Type)
		assert.JSONEq(t, `{"id":1}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestInMemory_PublishRespectsCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, Message{Type: "attendance"}))

	// Queue is full; a cancelled publish must not block forever.
	cancel()
	err := q.Publish(ctx, Message{Type: "attendance"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemory_ConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	out, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("consume channel did not close")
	}
}
