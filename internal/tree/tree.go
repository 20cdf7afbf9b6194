package tree

import (
	"github.com/pkg/errors"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
)

// Header carries the fields the tree needs from a block without pulling in
// the full db/kv dependency; ingest fills this from a parsed model.Block.
type Header struct {
	Hash         model.StateHash
	Parent       model.StateHash
	Height       model.BlockHeight
	Slot         model.GlobalSlot
	LastVrf      string
	ReceivedTime int64
}

// Delta is the result of a fork-choice re-evaluation: the chain of blocks to
// unapply (from the old best tip down to the fork point, exclusive of the
// fork point), ordered tip-to-root, and the chain to apply (from the fork
// point, exclusive, up to the new best tip), ordered root-to-tip — see
// Tree.delta.
type Delta struct {
	Unapply []model.StateHash // old-tip-first
	Apply   []model.StateHash // fork-point-first
	OldTip  model.StateHash
	NewTip  model.StateHash
}

// Tree is the in-memory branching DAG above the persisted canonical root.
// It holds no storage handle: all of its state is the arena and the orphan
// pool, so it can be rebuilt from the persisted Pending blocks on startup.
// Exactly one goroutine (the ingest loop) drives it, so it carries no
// internal locking — the outer service loop provides exclusion rather
// than a mutex.
type Tree struct {
	arena   map[model.StateHash]*node
	root    model.StateHash
	bestTip model.StateHash

	// orphans holds blocks admitted before their parent; keyed by the
	// missing parent hash, so a late-arriving parent can pull its whole
	// pending subtree in at once.
	orphans map[model.StateHash][]*Header
}

// NewTree seeds the arena with the persisted root block — the last block
// the store considers Canonical and not yet evicted, or the genesis block
// on a fresh database.
func NewTree(rootHeader Header) *Tree {
	t := &Tree{
		arena:   make(map[model.StateHash]*node),
		orphans: make(map[model.StateHash][]*Header),
	}
	root := &node{
		hash:         rootHeader.Hash,
		parent:       rootHeader.Parent,
		height:       rootHeader.Height,
		slot:         rootHeader.Slot,
		lastVrf:      rootHeader.LastVrf,
		receivedTime: rootHeader.ReceivedTime,
		canonicity:   model.Canonical,
	}
	t.arena[root.hash] = root
	t.root = root.hash
	t.bestTip = root.hash
	return t
}

// Root returns the current persisted-floor hash.
func (t *Tree) Root() model.StateHash { return t.root }

// BestTip returns the current best tip by virtual work.
func (t *Tree) BestTip() model.StateHash { return t.bestTip }

// Has reports whether hash is already present in the arena (Pending or
// otherwise); parked orphans are not in the arena.
func (t *Tree) Has(hash model.StateHash) bool {
	_, ok := t.arena[hash]
	return ok
}

// ErrBelowRoot rejects a block at or below the persisted root height. The
// root is final, so such a block can never join the revisable window; the
// caller logs and skips it rather than treating it as fatal.
var ErrBelowRoot = errors.New("block is at or below the persisted root")

// Add inserts a block header into the arena. If its parent is unknown, the
// header is parked in the orphan pool and reattached automatically once the
// parent arrives (or its ancestor does, transitively). Add never itself
// recomputes the best tip; callers re-evaluate on their own cadence via
// Reevaluate, batching fork choice over every N admissions or T seconds.
func (t *Tree) Add(h Header) error {
	if h.Hash != t.root && h.Height <= t.arena[t.root].height {
		return errors.Wrap(ErrBelowRoot, string(h.Hash))
	}
	t.insert(h)
	return nil
}

func (t *Tree) insert(h Header) {
	if _, ok := t.arena[h.Hash]; ok {
		return // duplicate admission, idempotent
	}
	parent, ok := t.arena[h.Parent]
	if !ok {
		t.orphans[h.Parent] = append(t.orphans[h.Parent], &h)
		return
	}
	n := &node{
		hash:         h.Hash,
		parent:       h.Parent,
		height:       h.Height,
		slot:         h.Slot,
		lastVrf:      h.LastVrf,
		receivedTime: h.ReceivedTime,
		canonicity:   model.Pending,
	}
	t.arena[n.hash] = n
	parent.children = append(parent.children, n.hash)

	// Pull in any children that arrived before this block did.
	if waiting, ok := t.orphans[n.hash]; ok {
		delete(t.orphans, n.hash)
		for _, w := range waiting {
			t.insert(*w)
		}
	}
}

// Reevaluate walks every leaf reachable from the root and returns the Delta
// needed to move the canonical chain from the current best tip to the new
// one. It is a no-op (empty Delta) if the best tip does not change.
func (t *Tree) Reevaluate() (Delta, error) {
	best := t.arena[t.root]
	var walk func(n *node)
	walk = func(n *node) {
		if best.work().less(n.work()) {
			best = n
		}
		for _, c := range n.children {
			walk(t.arena[c])
		}
	}
	walk(t.arena[t.root])

	if best.hash == t.bestTip {
		return Delta{}, nil
	}
	d, err := t.delta(t.bestTip, best.hash)
	if err != nil {
		return Delta{}, err
	}
	t.bestTip = best.hash
	return d, nil
}

// delta computes the LCA-based reorg path between two tips already present
// in the arena, ascending both until they converge.
func (t *Tree) delta(oldTip, newTip model.StateHash) (Delta, error) {
	oldPath, err := t.pathToRoot(oldTip)
	if err != nil {
		return Delta{}, err
	}
	newPath, err := t.pathToRoot(newTip)
	if err != nil {
		return Delta{}, err
	}

	inOld := make(map[model.StateHash]int, len(oldPath))
	for i, h := range oldPath {
		inOld[h] = i
	}

	var lcaIdxOld int
	var lca model.StateHash
	found := false
	for _, h := range newPath {
		if i, ok := inOld[h]; ok {
			lcaIdxOld = i
			lca = h
			found = true
			break
		}
	}
	if !found {
		return Delta{}, errkind.New(errkind.CorruptLineage, "no common ancestor between "+string(oldTip)+" and "+string(newTip))
	}

	unapply := append([]model.StateHash(nil), oldPath[:lcaIdxOld]...)

	var applyRev []model.StateHash
	for _, h := range newPath {
		if h == lca {
			break
		}
		applyRev = append(applyRev, h)
	}
	apply := make([]model.StateHash, len(applyRev))
	for i, h := range applyRev {
		apply[len(applyRev)-1-i] = h
	}

	depth := uint32(len(unapply))
	if depth > params.Current().MaxReorgDepth {
		return Delta{}, errkind.New(errkind.ReorgTooDeep, "reorg depth exceeds configured maximum")
	}

	return Delta{Unapply: unapply, Apply: apply, OldTip: oldTip, NewTip: newTip}, nil
}

// pathToRoot returns hash, its parent, its parent's parent, ... down to (and
// including) the current root, tip-first.
func (t *Tree) pathToRoot(hash model.StateHash) ([]model.StateHash, error) {
	var path []model.StateHash
	cur := hash
	for {
		n, ok := t.arena[cur]
		if !ok {
			return nil, errkind.New(errkind.CorruptLineage, "dangling reference to "+string(cur))
		}
		path = append(path, cur)
		if cur == t.root {
			return path, nil
		}
		cur = n.parent
	}
}

// AdvanceRoot moves the persisted floor forward once the best tip has
// accumulated MaxReorgDepth confirming canonical descendants: the
// canonical ancestor MaxReorgDepth below the best tip becomes the new
// root, and every arena entry that is neither on the root..best path nor
// reachable below it is evicted. It returns the hashes evicted so the
// caller can also drop them from any cache keyed on StateHash.
func (t *Tree) AdvanceRoot() (newRoot model.StateHash, evicted []model.StateHash, err error) {
	depth := params.Current().MaxReorgDepth
	if _, ok := t.arena[t.bestTip]; !ok {
		return "", nil, errors.New("best tip missing from arena")
	}
	path, err := t.pathToRoot(t.bestTip)
	if err != nil {
		return "", nil, err
	}
	// path is tip-first; the new root sits depth entries behind the tip.
	if uint32(len(path)) <= depth {
		return t.root, nil, nil // nothing to advance yet
	}
	newRootHash := path[int(depth)]
	if newRootHash == t.root {
		return t.root, nil, nil
	}

	keep := make(map[model.StateHash]bool, len(path))
	for _, h := range path {
		keep[h] = true
		if h == newRootHash {
			break
		}
	}
	// keep also the best-tip's own descendants-free subtree rooted at
	// newRoot: everything reachable from newRoot downward through the
	// live tree stays, since a currently-pending fork off an ancestor
	// might still win a later reevaluation before the slack window
	// passes it by.
	var mark func(h model.StateHash)
	mark = func(h model.StateHash) {
		keep[h] = true
		for _, c := range t.arena[h].children {
			mark(c)
		}
	}
	mark(newRootHash)

	for h := range t.arena {
		if !keep[h] {
			evicted = append(evicted, h)
			delete(t.arena, h)
		}
	}
	t.root = newRootHash
	t.arena[newRootHash].canonicity = model.Canonical

	// Orphan-pool entries whose claimed height has fallen behind the
	// eviction window (root height minus the configured slack) can never
	// reattach; drop them with the stale forks.
	cutoff := t.arena[newRootHash].height
	if slack := model.BlockHeight(params.Current().EvictionSlack); cutoff > slack {
		cutoff -= slack
	} else {
		cutoff = 0
	}
	for parent, waiting := range t.orphans {
		kept := waiting[:0]
		for _, w := range waiting {
			if w.Height > cutoff {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(t.orphans, parent)
		} else {
			t.orphans[parent] = kept
		}
	}
	return newRootHash, evicted, nil
}

// Header returns the header fields for a hash still resident in the arena.
func (t *Tree) Header(hash model.StateHash) (Header, bool) {
	n, ok := t.arena[hash]
	if !ok {
		return Header{}, false
	}
	return Header{
		Hash:         n.hash,
		Parent:       n.parent,
		Height:       n.height,
		Slot:         n.slot,
		LastVrf:      n.lastVrf,
		ReceivedTime: n.receivedTime,
	}, true
}

// PendingCount reports the number of arena blocks other than the root;
// parked orphans are not counted.
func (t *Tree) PendingCount() int { return len(t.arena) - 1 }
