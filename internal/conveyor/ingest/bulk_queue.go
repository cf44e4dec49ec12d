package ingest

const (
	DefaultMaxQueuedItems = 500
	DefaultMaxQueuedBytes = 5 * 1024 * 1024
)

// BulkQueue is an append-only buffer of serialized write operations bounded
// by item count and byte size. Callers must check WillFit (or flush) before
// every Add; the queue itself never rejects, so skipping the check forces an
// overflow. Owned by a single ingestion pipeline at a time, no internal
// locking.
type BulkQueue struct {
	ops      []Operation
	byteSize int
	maxItems int
	maxBytes int
}

func NewBulkQueue(maxItems int, maxBytes int) *BulkQueue {
	if maxItems <= 0 {
		maxItems = DefaultMaxQueuedItems
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxQueuedBytes
	}
	return &BulkQueue{
		maxItems: maxItems,
		maxBytes: maxBytes,
	}
}

// WillFit reports whether adding ops stays within both the item-count and
// byte-size budgets.
func (q *BulkQueue) WillFit(ops ...Operation) bool {
	addedBytes := 0
	for _, op := range ops {
		addedBytes += op.Size()
	}
	return len(q.ops)+len(ops) <= q.maxItems && q.byteSize+addedBytes <= q.maxBytes
}

// Add appends ops unconditionally.
func (q *BulkQueue) Add(ops ...Operation) {
	for _, op := range ops {
		q.byteSize += op.Size()
	}
	q.ops = append(q.ops, ops...)
}

// PopAll returns and clears all buffered operations. Returns nil if nothing
// is buffered.
func (q *BulkQueue) PopAll() []Operation {
	if len(q.ops) == 0 {
		return nil
	}
	ops := q.ops
	q.ops = nil
	q.byteSize = 0
	return ops
}

func (q *BulkQueue) Len() int {
	return len(q.ops)
}

func (q *BulkQueue) Bytes() int {
	return q.byteSize
}
