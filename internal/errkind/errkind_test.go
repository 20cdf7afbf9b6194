package errkind

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesKind(t *testing.T) {
	err := Wrap(Storage, errors.New("disk went away"), "put block")

	assert.True(t, errors.Is(err, Storage))
	assert.False(t, errors.Is(err, Parse))
	assert.Contains(t, err.Error(), "put block")
	assert.Contains(t, err.Error(), "disk went away")
}

func TestWrapNilIsNil(t *testing.T) {
	require.NoError(t, Wrap(Storage, nil, "whatever"))
}

func TestNewCarriesKind(t *testing.T) {
	err := New(ReorgTooDeep, "depth 300 exceeds 290")
	assert.True(t, errors.Is(err, ReorgTooDeep))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(CorruptLineage, "cycle")))
	assert.True(t, IsFatal(New(ReorgTooDeep, "deep")))
	assert.True(t, IsFatal(New(NoSnapshotForReorg, "none")))
	assert.False(t, IsFatal(New(Storage, "io")))
	assert.False(t, IsFatal(New(NotFound, "missing")))
	assert.False(t, IsFatal(nil))

	// Fatality survives further wrapping.
	wrapped := errors.Wrap(New(CorruptLineage, "cycle"), "while adding block")
	assert.True(t, IsFatal(wrapped))
}
