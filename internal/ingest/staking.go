package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
)

// stakingLedgerEntry mirrors one element of the staking-ledger JSON array.
// Balances arrive as decimal whole-unit strings ("66000.000001") and are
// converted to nano-units.
type stakingLedgerEntry struct {
	Pk       string `json:"pk"`
	Balance  string `json:"balance"`
	Delegate string `json:"delegate"`
}

// ParseStakingLedgerFile decodes a staking-ledger JSON payload into the
// stored model. Malformed payloads are reported as errkind.Parse so the
// caller quarantines the file.
func ParseStakingLedgerFile(data []byte, parsedName ParsedStakingLedgerFilename) (*model.StakingLedger, error) {
	var raw []stakingLedgerEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errkind.Wrap(errkind.Parse, err, "decode staking ledger JSON")
	}

	ledger := &model.StakingLedger{
		Epoch:      parsedName.Epoch,
		LedgerHash: parsedName.LedgerHash,
		Entries:    make(map[model.PublicKey]model.StakingLedgerEntry, len(raw)),
	}
	for _, e := range raw {
		if e.Pk == "" {
			return nil, errkind.New(errkind.Parse, "staking ledger entry missing pk")
		}
		balance, err := parseNanoAmount(e.Balance)
		if err != nil {
			return nil, errkind.Wrap(errkind.Parse, err, "staking ledger balance for "+e.Pk)
		}
		pk := model.PublicKey(e.Pk)
		delegate := model.PublicKey(e.Delegate)
		if delegate == "" {
			delegate = pk // an undelegated account self-delegates
		}
		ledger.Entries[pk] = model.StakingLedgerEntry{
			PublicKey: pk,
			Balance:   balance,
			Delegate:  delegate,
		}
	}
	return ledger, nil
}

// parseNanoAmount converts a decimal whole-unit string to nano-units,
// tolerating up to nine fractional digits.
func parseNanoAmount(v string) (model.Amount, error) {
	if v == "" {
		return 0, nil
	}
	whole := v
	frac := ""
	if i := strings.IndexByte(v, '.'); i >= 0 {
		whole, frac = v[:i], v[i+1:]
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	for len(frac) < 9 {
		frac += "0"
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseUint(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	return model.Amount(w*1_000_000_000 + f), nil
}
