// Package query translates high-level query objects into index scans over
// the block and ledger stores. It contains no indexing logic of its own:
// every predicate routes to the column family whose key order already
// matches the requested sort.
package query

import (
	"context"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/minaprotocol/mina-indexer/internal/db/kv"
	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// Sort direction enums, named as the GraphQL surface spells them.
type Sort string

const (
	BlockHeightAsc  Sort = "BLOCKHEIGHT_ASC"
	BlockHeightDesc Sort = "BLOCKHEIGHT_DESC"
)

// BlocksQuery is the filter set the blocks query surface supports:
// equality plus the _gt/_gte/_lt/_lte suffix forms.
type BlocksQuery struct {
	StateHash        *model.StateHash
	Canonical        *bool
	Creator          *model.PublicKey
	CoinbaseReceiver *model.PublicKey

	BlockHeight    *uint32
	BlockHeightGt  *uint32
	BlockHeightGte *uint32
	BlockHeightLt  *uint32
	BlockHeightLte *uint32

	SlotSinceGenesis    *uint32
	SlotSinceGenesisGt  *uint32
	SlotSinceGenesisGte *uint32
	SlotSinceGenesisLt  *uint32
	SlotSinceGenesisLte *uint32

	Sort  Sort
	Limit int
}

// BlockResult pairs a stored block with its committed canonicity tag.
type BlockResult struct {
	Block     *model.Block
	Canonical bool
}

const defaultLimit = 100

// accountCacheSize bounds the LRU over resolved account lookups; entries
// are keyed by (pk, height) so a moving tip never serves stale state.
const accountCacheSize = 4096

// Resolver serves read-only queries against committed indexes.
type Resolver struct {
	store    *kv.Store
	accounts *lru.Cache
}

// NewResolver wires a resolver over an open store.
func NewResolver(store *kv.Store) (*Resolver, error) {
	cache, err := lru.New(accountCacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{store: store, accounts: cache}, nil
}

// Blocks resolves a blocks query: one index scan, early-exited at the
// limit, never scanning past a bounded range.
func (r *Resolver) Blocks(ctx context.Context, q BlocksQuery) ([]BlockResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	forward := q.Sort != BlockHeightDesc

	// Point lookup dominates every other predicate.
	if q.StateHash != nil {
		b, err := r.store.GetBlock(*q.StateHash)
		if errors.Is(err, errkind.NotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		res := BlockResult{Block: b, Canonical: r.store.Canonicity(b.StateHash) == model.Canonical}
		if !q.matches(res) {
			return nil, nil
		}
		return []BlockResult{res}, nil
	}

	lowHeight, highHeight := q.heightBounds()
	var out []BlockResult
	collect := func(b *model.Block) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, errkind.Wrap(errkind.DeadlineExceeded, err, "blocks query")
		}
		res := BlockResult{Block: b, Canonical: r.store.Canonicity(b.StateHash) == model.Canonical}
		if !q.matches(res) {
			return true, nil
		}
		out = append(out, res)
		return len(out) < limit, nil
	}

	var err error
	switch {
	case q.Canonical != nil && *q.Canonical:
		// Canonical-only scans need no filter pass: SetCanonicity keeps a
		// dedicated height-ordered column family in sync.
		err = r.store.IterCanonicalByHeight(lowHeight, highHeight, forward, collect)
	case q.Creator != nil:
		err = r.store.IterByCreator(*q.Creator, lowHeight, highHeight, forward, collect)
	case q.CoinbaseReceiver != nil:
		err = r.store.IterByCoinbaseReceiver(*q.CoinbaseReceiver, lowHeight, highHeight, forward, collect)
	case q.slotBounded():
		lowSlot, highSlot := q.slotBounds()
		err = r.store.IterBySlot(lowSlot, highSlot, forward, collect)
	default:
		err = r.store.IterByHeight(lowHeight, highHeight, forward, collect)
	}
	if err != nil {
		return nil, err
	}

	// Equal-height rows come back in state-hash order from the index; the
	// query surface promises canonical first, then newest received, then
	// state hash.
	sortWithinHeights(out, forward)
	return out, nil
}

// matches applies the predicates the chosen index did not already satisfy.
func (q BlocksQuery) matches(res BlockResult) bool {
	b := res.Block
	if q.Canonical != nil && *q.Canonical != res.Canonical {
		return false
	}
	if q.Creator != nil && b.Creator != *q.Creator {
		return false
	}
	if q.CoinbaseReceiver != nil && b.CoinbaseReceiver != *q.CoinbaseReceiver {
		return false
	}
	h := uint32(b.Height)
	if q.BlockHeight != nil && h != *q.BlockHeight {
		return false
	}
	if q.BlockHeightGt != nil && h <= *q.BlockHeightGt {
		return false
	}
	if q.BlockHeightGte != nil && h < *q.BlockHeightGte {
		return false
	}
	if q.BlockHeightLt != nil && h >= *q.BlockHeightLt {
		return false
	}
	if q.BlockHeightLte != nil && h > *q.BlockHeightLte {
		return false
	}
	s := uint32(b.Slot)
	if q.SlotSinceGenesis != nil && s != *q.SlotSinceGenesis {
		return false
	}
	if q.SlotSinceGenesisGt != nil && s <= *q.SlotSinceGenesisGt {
		return false
	}
	if q.SlotSinceGenesisGte != nil && s < *q.SlotSinceGenesisGte {
		return false
	}
	if q.SlotSinceGenesisLt != nil && s >= *q.SlotSinceGenesisLt {
		return false
	}
	if q.SlotSinceGenesisLte != nil && s > *q.SlotSinceGenesisLte {
		return false
	}
	return true
}

// heightBounds folds the equality and suffix predicates into the inclusive
// [low, high] window the iterators seek and stop at; high 0 means unbounded.
func (q BlocksQuery) heightBounds() (model.BlockHeight, model.BlockHeight) {
	var low, high uint32
	if q.BlockHeight != nil {
		return model.BlockHeight(*q.BlockHeight), model.BlockHeight(*q.BlockHeight)
	}
	if q.BlockHeightGt != nil {
		low = *q.BlockHeightGt + 1
	}
	if q.BlockHeightGte != nil && *q.BlockHeightGte > low {
		low = *q.BlockHeightGte
	}
	if q.BlockHeightLt != nil {
		high = *q.BlockHeightLt - 1
	}
	if q.BlockHeightLte != nil && (high == 0 || *q.BlockHeightLte < high) {
		high = *q.BlockHeightLte
	}
	return model.BlockHeight(low), model.BlockHeight(high)
}

func (q BlocksQuery) slotBounded() bool {
	return q.SlotSinceGenesis != nil || q.SlotSinceGenesisGt != nil || q.SlotSinceGenesisGte != nil ||
		q.SlotSinceGenesisLt != nil || q.SlotSinceGenesisLte != nil
}

func (q BlocksQuery) slotBounds() (model.GlobalSlot, model.GlobalSlot) {
	var low, high uint32
	if q.SlotSinceGenesis != nil {
		return model.GlobalSlot(*q.SlotSinceGenesis), model.GlobalSlot(*q.SlotSinceGenesis)
	}
	if q.SlotSinceGenesisGt != nil {
		low = *q.SlotSinceGenesisGt + 1
	}
	if q.SlotSinceGenesisGte != nil && *q.SlotSinceGenesisGte > low {
		low = *q.SlotSinceGenesisGte
	}
	if q.SlotSinceGenesisLt != nil {
		high = *q.SlotSinceGenesisLt - 1
	}
	if q.SlotSinceGenesisLte != nil && (high == 0 || *q.SlotSinceGenesisLte < high) {
		high = *q.SlotSinceGenesisLte
	}
	return model.GlobalSlot(low), model.GlobalSlot(high)
}

// sortWithinHeights reorders rows that share a height: canonical block(s)
// first, then non-canonical by descending receive time, then by state hash.
// Rows at different heights are ordered by height, ascending when forward
// and descending otherwise.
func sortWithinHeights(rows []BlockResult, forward bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Block.Height != b.Block.Height {
			if forward {
				return a.Block.Height < b.Block.Height
			}
			return a.Block.Height > b.Block.Height
		}
		if a.Canonical != b.Canonical {
			return a.Canonical
		}
		if a.Block.ReceivedTime != b.Block.ReceivedTime {
			return a.Block.ReceivedTime > b.Block.ReceivedTime
		}
		return a.Block.StateHash < b.Block.StateHash
	})
}
