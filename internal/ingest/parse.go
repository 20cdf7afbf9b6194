package ingest

import (
	"encoding/json"
	"strconv"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
)

// precomputedBlock mirrors the precomputed-block JSON: state_hash,
// protocol_state.previous_state_hash, protocol_state.body.consensus_state.*,
// and staged_ledger_diff.diff[*]. Mina's real wire format nests the staged
// ledger diff as a two-element pre-diff/post-diff tuple; this type flattens
// it to the single command list (UserCommand/InternalCommand/SnarkJob
// rows), which is the only part any component downstream of the parser
// consumes.
type precomputedBlock struct {
	StateHash     string `json:"state_hash"`
	ProtocolState struct {
		PreviousStateHash string `json:"previous_state_hash"`
		Body              struct {
			ConsensusState struct {
				BlockchainLength        string `json:"blockchain_length"`
				GlobalSlotSinceGenesis  string `json:"global_slot_since_genesis"`
				LastVrfOutput           string `json:"last_vrf_output"`
				BlockCreator            string `json:"block_creator"`
				CoinbaseReceiver        string `json:"coinbase_receiver"`
				Epoch                   string `json:"epoch_count"`
			} `json:"consensus_state"`
		} `json:"body"`
	} `json:"protocol_state"`
	DateTime         string                  `json:"date_time"`
	StagedLedgerDiff stagedLedgerDiffWrapper `json:"staged_ledger_diff"`
}

type stagedLedgerDiffWrapper struct {
	Diff diffPayload `json:"diff"`
}

type diffPayload struct {
	Completed    []snarkJobEntry    `json:"completed_works"`
	Commands     []commandEntry     `json:"commands"`
	Coinbase     string             `json:"coinbase"`
	FeeTransfers []feeTransferEntry `json:"fee_transfers"`
}

// coinbaseAmount maps the coinbase variant tag to its nano-unit amount.
// "One" is the standard reward; "Two" is the supercharged double reward paid
// when the creator's stake is unlocked. Numeric strings pass through as-is
// for the eras whose precomputed blocks carry the literal amount.
func coinbaseAmount(v string) model.Amount {
	switch v {
	case "One":
		return 720000000000
	case "Two":
		return 1440000000000
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return model.Amount(n)
}

type snarkJobEntry struct {
	Prover string `json:"prover"`
	Fee    string `json:"fee"`
}

type feeTransferEntry struct {
	Receiver string `json:"receiver"`
	Fee      string `json:"fee"`
	Via      string `json:"via"` // "Coinbase" when folded into the coinbase transaction
}

type commandEntry struct {
	Kind          string `json:"kind"` // "Payment" | "Delegation" | "Create_account"
	Source        string `json:"source"`
	Receiver      string `json:"receiver"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Nonce         string `json:"nonce"`
	Memo          string `json:"memo"`
	Failed        bool   `json:"failed"`
	FailureReason string `json:"failure_reason"`
}

// ParseBlockFile decodes a precomputed-block JSON payload into the stored
// model. A malformed payload is reported as an errkind.Parse error so the
// caller quarantines the file rather than treating it as fatal.
func ParseBlockFile(data []byte, parsedName ParsedBlockFilename, receivedTime int64) (*model.Block, error) {
	var raw precomputedBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errkind.Wrap(errkind.Parse, err, "decode precomputed block JSON")
	}
	if raw.StateHash == "" {
		return nil, errkind.New(errkind.Parse, "precomputed block missing state_hash")
	}

	cs := raw.ProtocolState.Body.ConsensusState
	height, err := parseUintField("blockchain_length", cs.BlockchainLength)
	if err != nil {
		return nil, err
	}
	slot, err := parseUintField("global_slot_since_genesis", cs.GlobalSlotSinceGenesis)
	if err != nil {
		return nil, err
	}

	block := &model.Block{
		StateHash:         model.StateHash(raw.StateHash),
		ParentHash:        model.StateHash(raw.ProtocolState.PreviousStateHash),
		Height:            model.BlockHeight(height),
		Slot:              model.GlobalSlot(slot),
		Creator:           model.PublicKey(cs.BlockCreator),
		CoinbaseReceiver:  model.PublicKey(cs.CoinbaseReceiver),
		LastVrfOutput:     cs.LastVrfOutput,
		DateTime:          parseEpochMillis(raw.DateTime),
		ReceivedTime:      receivedTime,
		ProtocolStateBlob: data,
	}
	if epoch, err := parseUintField("epoch_count", cs.Epoch); err == nil && cs.Epoch != "" {
		block.Epoch = model.Epoch(epoch)
	} else {
		block.Epoch = model.Epoch(uint32(block.Slot) / params.Current().SlotsPerEpoch)
	}

	for i, c := range raw.StagedLedgerDiff.Diff.Commands {
		uc, err := parseUserCommand(raw.StateHash, uint32(i), c)
		if err != nil {
			return nil, err
		}
		block.UserCommands = append(block.UserCommands, uc)
		block.TxFees += uc.Fee
	}

	seq := uint32(len(block.UserCommands))
	if raw.StagedLedgerDiff.Diff.Coinbase != "" && raw.StagedLedgerDiff.Diff.Coinbase != "Zero" {
		block.CoinbaseAmount = coinbaseAmount(raw.StagedLedgerDiff.Diff.Coinbase)
		block.InternalCommands = append(block.InternalCommands, model.InternalCommand{
			StateHash: model.StateHash(raw.StateHash),
			SeqIndex:  seq,
			Kind:      model.Coinbase,
			Receiver:  block.CoinbaseReceiver,
			Amount:    block.CoinbaseAmount,
		})
		seq++
	}
	for _, ft := range raw.StagedLedgerDiff.Diff.FeeTransfers {
		amount, err := parseUintField("fee_transfer", ft.Fee)
		if err != nil {
			return nil, err
		}
		kind := model.FeeTransfer
		if ft.Via == "Coinbase" {
			kind = model.FeeTransferViaCoinbase
		}
		block.InternalCommands = append(block.InternalCommands, model.InternalCommand{
			StateHash: model.StateHash(raw.StateHash),
			SeqIndex:  seq,
			Kind:      kind,
			Receiver:  model.PublicKey(ft.Receiver),
			Amount:    model.Amount(amount),
		})
		seq++
	}

	for i, sj := range raw.StagedLedgerDiff.Diff.Completed {
		fee, err := parseUintField("snark fee", sj.Fee)
		if err != nil {
			return nil, err
		}
		block.SnarkJobs = append(block.SnarkJobs, model.SnarkJob{
			StateHash: model.StateHash(raw.StateHash),
			SeqIndex:  uint32(i),
			Prover:    model.PublicKey(sj.Prover),
			Fee:       model.Fee(fee),
		})
		block.SnarkFees += model.Fee(fee)
	}

	return block, nil
}

func parseUserCommand(stateHash string, seq uint32, c commandEntry) (model.UserCommand, error) {
	amount, err := parseUintField("amount", c.Amount)
	if err != nil {
		return model.UserCommand{}, err
	}
	fee, err := parseUintField("fee", c.Fee)
	if err != nil {
		return model.UserCommand{}, err
	}
	nonce, err := parseUintField("nonce", c.Nonce)
	if err != nil {
		return model.UserCommand{}, err
	}

	var kind model.UserCommandKind
	switch c.Kind {
	case "Payment", "":
		kind = model.Payment
	case "Delegation", "Stake_delegation":
		kind = model.Delegation
	case "Create_account":
		kind = model.CreateAccount
	default:
		return model.UserCommand{}, errkind.New(errkind.Parse, "unknown command kind "+c.Kind)
	}

	return model.UserCommand{
		StateHash:     model.StateHash(stateHash),
		SeqIndex:      seq,
		Kind:          kind,
		Source:        model.PublicKey(c.Source),
		Receiver:      model.PublicKey(c.Receiver),
		Amount:        model.Amount(amount),
		Fee:           model.Fee(fee),
		Nonce:         model.Nonce(nonce),
		Memo:          c.Memo,
		Failed:        c.Failed,
		FailureReason: c.FailureReason,
	}, nil
}

// parseEpochMillis converts the block's millisecond-epoch timestamp string
// to unix seconds; a missing or malformed field reads as zero rather than
// quarantining the whole block.
func parseEpochMillis(v string) int64 {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return ms / 1000
}

func parseUintField(field, v string) (uint64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errkind.Wrap(errkind.Parse, err, "field "+field)
	}
	return n, nil
}
