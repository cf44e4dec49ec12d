package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexOp(t *testing.T, id string, source string) Operation {
	op, err := NewIndexOperation("content-index", id, []byte(source))
	require.NoError(t, err)
	return op
}

func TestBulkQueue_WillFitItemBudget(t *testing.T) {
	q := NewBulkQueue(2, 1024*1024)
	a := indexOp(t, "a", `{"id":"a"}`)
	b := indexOp(t, "b", `{"id":"b"}`)
	c := indexOp(t, "c", `{"id":"c"}`)

	assert.True(t, q.WillFit(a, b))
	assert.False(t, q.WillFit(a, b, c))

	q.Add(a, b)
	assert.False(t, q.WillFit(c))
}

func TestBulkQueue_WillFitByteBudget(t *testing.T) {
	a := indexOp(t, "a", `{"id":"a"}`)
	q := NewBulkQueue(100, a.Size()+1)

	assert.True(t, q.WillFit(a))
	q.Add(a)
	assert.False(t, q.WillFit(a))
}

func TestBulkQueue_PopAllReturnsAddedAndClears(t *testing.T) {
	q := NewBulkQueue(10, 1024)
	a := indexOp(t, "a", `{"id":"a"}`)
	b := indexOp(t, "b", `{"id":"b"}`)
	q.Add(a, b)

	popped := q.PopAll()
	require.Len(t, popped, 2)
	assert.Equal(t, "a", popped[0].DocumentID)
	assert.Equal(t, "b", popped[1].DocumentID)

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Bytes())
	assert.Nil(t, q.PopAll())
	assert.True(t, q.WillFit(a, b))
}
