package pipeline

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// Router fans records out to key-partitions by hashing the record key, so
// every measurement for one location lands on the same processor. Records
// without a key all go to partition zero, which degrades to single-partition
// processing but preserves per-key ordering.
type Router struct {
	procs []*Processor
}

func NewRouter(procs []*Processor) *Router {
	return &Router{procs: procs}
}

// Route submits the record to its partition's processor, blocking while the
// partition's channel is full.
func (r *Router) Route(ctx context.Context, rec Record) error {
	return r.procs[partitionFor(rec.Key, len(r.procs))].Submit(ctx, rec)
}

func partitionFor(key []byte, partitions int) int {
	if len(key) == 0 {
		return 0
	}
	return int(xxhash.Sum64(key) % uint64(partitions)) //nolint:gosec // partition count is small and positive
}
