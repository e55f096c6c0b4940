package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecute(t *testing.T) {
	pool := NewPool(3)

	var calls atomic.Int32
	tasks := []Task{
		{Name: "a", Execute: func() (interface{}, error) { calls.Add(1); return 1, nil }},
		{Name: "b", Execute: func() (interface{}, error) { calls.Add(1); return "two", nil }},
		{Name: "c", Execute: func() (interface{}, error) { calls.Add(1); return nil, errors.New("boom") }},
	}

	results := pool.Execute(context.Background(), tasks)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results["a"].Data)
	assert.Equal(t, "two", results["b"].Data)
	assert.EqualError(t, results["c"].Err, "boom")
	assert.Equal(t, int32(3), calls.Load())

	t.Run("pool is reusable", func(t *testing.T) {
		again := pool.Execute(context.Background(), tasks[:1])
		assert.Len(t, again, 1)
	})

	t.Run("empty task list", func(t *testing.T) {
		assert.Empty(t, pool.Execute(context.Background(), nil))
	})
}
