package search

import (
	"context"
	"sync"

	"github.com/conveyorproject/conveyor/internal/conveyor/ingest"
)

// FakeBulkClient is an in-memory BulkClient and IndexProvider for tests.
type FakeBulkClient struct {
	mu sync.Mutex
	// Err, when set, is returned by every Bulk call.
	Err            error
	batches        [][]ingest.Operation
	ensuredIndices []string
}

func NewFakeBulkClient() *FakeBulkClient {
	return &FakeBulkClient{}
}

func (f *FakeBulkClient) Bulk(_ context.Context, ops []ingest.Operation, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	batch := make([]ingest.Operation, len(ops))
	copy(batch, ops)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *FakeBulkClient) EnsureIndex(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensuredIndices = append(f.ensuredIndices, name)
	return nil
}

// Batches returns all flushed batches in flush order.
func (f *FakeBulkClient) Batches() [][]ingest.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]ingest.Operation, len(f.batches))
	copy(out, f.batches)
	return out
}

// Operations returns all flushed operations across batches, in order.
func (f *FakeBulkClient) Operations() []ingest.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ingest.Operation
	for _, batch := range f.batches {
		out = append(out, batch...)
	}
	return out
}

func (f *FakeBulkClient) EnsuredIndices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ensuredIndices))
	copy(out, f.ensuredIndices)
	return out
}
