package window

import (
	"slices"
	"sort"
)

// closeItem associates one bucket key with its window end.
type closeItem struct {
	end int64
	key bucketKey
}

// closeIndex keeps bucket keys ordered by window end so that draining up to
// a watermark is a prefix cut. Each bucket is registered exactly once, when
// its accumulator is created.
type closeIndex struct {
	items []closeItem
}

// add inserts a key at its sorted position (ascending window end).
func (i *closeIndex) add(end int64, key bucketKey) {
	at := sort.Search(len(i.items), func(j int) bool {
		return i.items[j].end > end
	})
	i.items = slices.Insert(i.items, at, closeItem{end: end, key: key})
}

// drain removes and returns every key whose window end is at or below the
// watermark, preserving ascending end order.
func (i *closeIndex) drain(watermark int64) []bucketKey {
	idx := sort.Search(len(i.items), func(j int) bool {
		return i.items[j].end > watermark
	})
	if idx == 0 {
		return nil
	}

	drained := make([]bucketKey, idx)
	for j := 0; j < idx; j++ {
		drained[j] = i.items[j].key
	}
	i.items = i.items[idx:]
	return drained
}
