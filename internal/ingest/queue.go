package ingest

import "container/heap"

// fileKind distinguishes the two drop zones a queued file came from.
type fileKind int

const (
	blockFile fileKind = iota
	stakingLedgerFile
)

// queueItem is one admissible file. Lower heights drain first so the
// block-tree engine sees parents before children, minimizing orphan-pool
// residency; receive time breaks ties between forks at the same height.
type queueItem struct {
	kind         fileKind
	path         string
	name         string
	height       uint32 // block height, or epoch for staking ledgers
	receivedTime int64
}

// admissionQueue is a priority queue over (height, receivedTime).
// Staking-ledger files sort by epoch, which keeps them interleaved early —
// they carry no parent dependency, so their exact position is irrelevant as
// long as they are not starved.
type admissionQueue struct {
	items []queueItem
}

var _ heap.Interface = (*admissionQueue)(nil)

func (q *admissionQueue) Len() int { return len(q.items) }

func (q *admissionQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.height != b.height {
		return a.height < b.height
	}
	return a.receivedTime < b.receivedTime
}

func (q *admissionQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *admissionQueue) Push(x interface{}) {
	q.items = append(q.items, x.(queueItem))
}

func (q *admissionQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	it := old[n-1]
	q.items = old[:n-1]
	return it
}

func (q *admissionQueue) push(it queueItem) {
	heap.Push(q, it)
	queueDepth.Set(float64(len(q.items)))
}

func (q *admissionQueue) pop() (queueItem, bool) {
	if len(q.items) == 0 {
		return queueItem{}, false
	}
	it := heap.Pop(q).(queueItem)
	queueDepth.Set(float64(len(q.items)))
	return it, true
}
