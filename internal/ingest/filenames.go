package ingest

import (
	"strconv"
	"strings"

	"github.com/minaprotocol/mina-indexer/internal/model"
)

// ParsedBlockFilename is the (network, height, state_hash) triple encoded
// in a precomputed-block filename "<network>-<height>-<state_hash>.json".
type ParsedBlockFilename struct {
	Network   string
	Height    model.BlockHeight
	StateHash model.StateHash
}

// ParseBlockFilename returns ok=false (never an error) for any name that
// doesn't match the convention, so callers can quarantine it as a Parse
// failure with the filename itself as context.
func ParseBlockFilename(name string) (ParsedBlockFilename, bool) {
	name = strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(name, "-", 3)
	if len(parts) != 3 {
		return ParsedBlockFilename{}, false
	}
	height, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return ParsedBlockFilename{}, false
	}
	if parts[0] == "" || parts[2] == "" {
		return ParsedBlockFilename{}, false
	}
	return ParsedBlockFilename{
		Network:   parts[0],
		Height:    model.BlockHeight(height),
		StateHash: model.StateHash(parts[2]),
	}, true
}

// ParsedStakingLedgerFilename is the (network, epoch, ledger_hash) triple
// encoded in "<network>-<epoch>-<ledger_hash>.json".
type ParsedStakingLedgerFilename struct {
	Network    string
	Epoch      model.Epoch
	LedgerHash string
}

func ParseStakingLedgerFilename(name string) (ParsedStakingLedgerFilename, bool) {
	name = strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(name, "-", 3)
	if len(parts) != 3 {
		return ParsedStakingLedgerFilename{}, false
	}
	epoch, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return ParsedStakingLedgerFilename{}, false
	}
	if parts[0] == "" || parts[2] == "" {
		return ParsedStakingLedgerFilename{}, false
	}
	return ParsedStakingLedgerFilename{
		Network:    parts[0],
		Epoch:      model.Epoch(epoch),
		LedgerHash: parts[2],
	}, true
}
