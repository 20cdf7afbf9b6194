package tree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
)

func h(hash, parent model.StateHash, height model.BlockHeight, vrf string) Header {
	return Header{Hash: hash, Parent: parent, Height: height, LastVrf: vrf}
}

func TestAddAndBestTipPrefersHeight(t *testing.T) {
	tr := NewTree(h("genesis", "", 0, "g"))

	require.NoError(t, tr.Add(h("a1", "genesis", 1, "v1")))
	require.NoError(t, tr.Add(h("a2", "a1", 2, "v2")))
	require.NoError(t, tr.Add(h("b1", "genesis", 1, "v9"))) // higher VRF, same height as a1

	d, err := tr.Reevaluate()
	require.NoError(t, err)
	require.Equal(t, model.StateHash("a2"), d.NewTip, "higher block wins regardless of sibling VRF")
	require.Equal(t, model.StateHash("a2"), tr.BestTip())
}

func TestReevaluateBreaksTieOnVrf(t *testing.T) {
	tr := NewTree(h("genesis", "", 0, "g"))
	require.NoError(t, tr.Add(h("a1", "genesis", 1, "vrf-1")))
	require.NoError(t, tr.Add(h("b1", "genesis", 1, "vrf-9")))

	d, err := tr.Reevaluate()
	require.NoError(t, err)
	require.Equal(t, model.StateHash("b1"), d.NewTip)
}

func TestOrphanReattachesOnParentArrival(t *testing.T) {
	tr := NewTree(h("genesis", "", 0, "g"))

	// child arrives before its parent
	require.NoError(t, tr.Add(h("c1", "p1", 2, "v2")))
	require.False(t, tr.Has("c1"), "orphaned block must not appear in the arena yet")

	require.NoError(t, tr.Add(h("p1", "genesis", 1, "v1")))
	require.True(t, tr.Has("c1"), "orphan must reattach once its parent is admitted")

	d, err := tr.Reevaluate()
	require.NoError(t, err)
	require.Equal(t, model.StateHash("c1"), d.NewTip)
}

func TestReevaluateComputesReorgDelta(t *testing.T) {
	tr := NewTree(h("genesis", "", 0, "g"))
	require.NoError(t, tr.Add(h("a1", "genesis", 1, "va1")))
	require.NoError(t, tr.Add(h("a2", "a1", 2, "va2")))
	_, err := tr.Reevaluate()
	require.NoError(t, err)
	require.Equal(t, model.StateHash("a2"), tr.BestTip())

	require.NoError(t, tr.Add(h("b1", "genesis", 1, "vb1")))
	require.NoError(t, tr.Add(h("b2", "b1", 2, "vb2")))
	require.NoError(t, tr.Add(h("b3", "b2", 3, "vb3")))

	d, err := tr.Reevaluate()
	require.NoError(t, err)
	require.Equal(t, model.StateHash("a2"), d.OldTip)
	require.Equal(t, model.StateHash("b3"), d.NewTip)
	require.Equal(t, []model.StateHash{"a2", "a1"}, d.Unapply)
	require.Equal(t, []model.StateHash{"b1", "b2", "b3"}, d.Apply)
}

func TestAddBelowRootIsRejected(t *testing.T) {
	tr := NewTree(h("genesis", "", 10, "g"))
	err := tr.Add(h("stale", "nowhere", 3, "v"))
	require.ErrorIs(t, err, ErrBelowRoot)
}

func TestAdvanceRootEvictsStaleForks(t *testing.T) {
	cfg := *params.Current()
	cfg.MaxReorgDepth = 20
	prev := params.Current()
	params.Override(&cfg)
	defer params.Override(prev)

	tr := NewTree(h("genesis", "", 0, "g"))
	cur := model.StateHash("genesis")
	for i := 1; i <= 60; i++ {
		require.NoError(t, tr.Add(Header{Hash: model.StateHash(itoa(i)), Parent: cur, Height: model.BlockHeight(i), LastVrf: itoa(i)}))
		cur = model.StateHash(itoa(i))
	}
	require.NoError(t, tr.Add(h("fork-1", "genesis", 1, "zzz-losing-fork")))

	_, err := tr.Reevaluate()
	require.NoError(t, err)

	newRoot, evicted, err := tr.AdvanceRoot()
	require.NoError(t, err)
	require.NotEqual(t, model.StateHash("genesis"), newRoot)
	require.Contains(t, evicted, model.StateHash("fork-1"), "stale sibling fork below the new root must be evicted")
}

func TestReorgDeeperThanMaxIsFatal(t *testing.T) {
	cfg := *params.Current()
	cfg.MaxReorgDepth = 3
	prev := params.Current()
	params.Override(&cfg)
	defer params.Override(prev)

	tr := NewTree(h("genesis", "", 0, "g"))
	cur := model.StateHash("genesis")
	for i := 1; i <= 5; i++ {
		hash := model.StateHash("a" + itoa(i))
		require.NoError(t, tr.Add(h(hash, cur, model.BlockHeight(i), "a"+itoa(i))))
		cur = hash
	}
	_, err := tr.Reevaluate()
	require.NoError(t, err)

	// A competing fork of six blocks off genesis would unapply five — two
	// past the configured maximum.
	cur = "genesis"
	for i := 1; i <= 6; i++ {
		hash := model.StateHash("b" + itoa(i))
		require.NoError(t, tr.Add(h(hash, cur, model.BlockHeight(i), "z"+itoa(i))))
		cur = hash
	}
	_, err = tr.Reevaluate()
	require.Error(t, err)
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}
