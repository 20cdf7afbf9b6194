package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minaprotocol/mina-indexer/internal/model"
)

func TestParseBlockFilename(t *testing.T) {
	tests := []struct {
		name   string
		ok     bool
		parsed ParsedBlockFilename
	}{
		{
			name: "mainnet-120-3NLNyQC4XgQX2Q9H7fC2UxFZKY4xwwUZop8jVR24SWYNNE93FsnS.json",
			ok:   true,
			parsed: ParsedBlockFilename{
				Network:   "mainnet",
				Height:    120,
				StateHash: "3NLNyQC4XgQX2Q9H7fC2UxFZKY4xwwUZop8jVR24SWYNNE93FsnS",
			},
		},
		{name: "mainnet-120.json", ok: false},
		{name: "mainnet-notanumber-hash.json", ok: false},
		{name: "-120-hash.json", ok: false},
		{name: "mainnet-120-.json", ok: false},
		{name: "README.md", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := ParseBlockFilename(tt.name)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.parsed, parsed)
			}
		})
	}
}

func TestParseStakingLedgerFilename(t *testing.T) {
	parsed, ok := ParseStakingLedgerFilename("mainnet-42-jx7buQVWFLsXTtzRgSxbYcT8EYLS8KCZbLrfDcJxMtyy4thw2Ee.json")
	require.True(t, ok)
	assert.Equal(t, "mainnet", parsed.Network)
	assert.Equal(t, model.Epoch(42), parsed.Epoch)
	assert.Equal(t, "jx7buQVWFLsXTtzRgSxbYcT8EYLS8KCZbLrfDcJxMtyy4thw2Ee", parsed.LedgerHash)

	_, ok = ParseStakingLedgerFilename("mainnet-notanepoch-hash.json")
	require.False(t, ok)
}
