// Package tree implements the in-memory block-tree engine: a branching DAG
// of Pending blocks above the persisted root, long-range fork choice by
// virtual work, and canonical-chain maintenance.
package tree

import "github.com/minaprotocol/mina-indexer/internal/model"

// node is one entry in the arena. The parent is stored as a StateHash key
// into the same arena map rather than a pointer, so eviction is a plain
// map delete with no self-referential ownership to untangle.
type node struct {
	hash         model.StateHash
	parent       model.StateHash
	height       model.BlockHeight
	slot         model.GlobalSlot
	lastVrf      string
	receivedTime int64
	canonicity   model.Canonicity
	children     []model.StateHash
}

// virtualWork is the fork-choice tuple: height dominates, VRF output
// breaks ties, state hash is the final deterministic tiebreak. The same
// comparison on every replica selects the same tip.
type virtualWork struct {
	height model.BlockHeight
	vrf    string
	hash   model.StateHash
}

func (n *node) work() virtualWork {
	return virtualWork{height: n.height, vrf: n.lastVrf, hash: n.hash}
}

// less reports whether a has strictly less virtual work than b.
func (a virtualWork) less(b virtualWork) bool {
	if a.height != b.height {
		return a.height < b.height
	}
	if a.vrf != b.vrf {
		return a.vrf < b.vrf
	}
	return a.hash < b.hash
}
