// Package model defines the data types shared across the indexer: blocks,
// commands, accounts and the aggregate counters derived from them.
package model

import "github.com/btcsuite/btcutil/base58"

// StateHash is the content-addressed identifier of a block.
type StateHash string

// Valid reports whether s is non-empty and decodes as base58check, checksum
// included. The version byte is not compared with any network-specific
// value, and no further cryptographic verification is done.
func (s StateHash) Valid() bool {
	if s == "" {
		return false
	}
	_, _, err := decodeBase58(string(s))
	return err == nil
}

// PublicKey is an opaque base58 account identifier.
type PublicKey string

// Valid reports whether pk is non-empty and decodes as base58check,
// checksum included; the version byte is not checked.
func (pk PublicKey) Valid() bool {
	if pk == "" {
		return false
	}
	_, _, err := decodeBase58(string(pk))
	return err == nil
}

func decodeBase58(s string) ([]byte, byte, error) {
	decoded, version, err := base58.CheckDecode(s)
	return decoded, version, err
}

// BlockHeight is monotone along any chain; not unique across forks.
type BlockHeight uint32

// GlobalSlot is monotone along any chain; gaps are permitted.
type GlobalSlot uint32

// Epoch is derived from GlobalSlot.
type Epoch uint32

// Amount is a fixed-point nano-unit quantity (balances, coinbase amounts).
type Amount uint64

// Fee is a fixed-point nano-unit quantity.
type Fee uint64

// Nonce is a per-account strictly increasing counter.
type Nonce uint64

// Canonicity tags the status of a stored block within the tree.
type Canonicity string

const (
	// Canonical marks the unique block at a height that lies on the best chain.
	Canonical Canonicity = "Canonical"
	// Orphan marks a block superseded by fork choice.
	Orphan Canonicity = "Orphan"
	// Pending marks a block not yet classified, or above best_height.
	Pending Canonicity = "Pending"
)

// UserCommandKind tags the variant of a UserCommand.
type UserCommandKind string

const (
	Payment       UserCommandKind = "Payment"
	Delegation    UserCommandKind = "Delegation"
	CreateAccount UserCommandKind = "CreateAccount"
)

// InternalCommandKind tags the variant of an InternalCommand.
type InternalCommandKind string

const (
	Coinbase               InternalCommandKind = "Coinbase"
	FeeTransfer            InternalCommandKind = "FeeTransfer"
	FeeTransferViaCoinbase InternalCommandKind = "FeeTransferViaCoinbase"
)

// UserCommand is a child row of a Block, keyed by (state_hash, sequence_index).
type UserCommand struct {
	StateHash     StateHash
	SeqIndex      uint32
	Kind          UserCommandKind
	Source        PublicKey
	Receiver      PublicKey
	Amount        Amount
	Fee           Fee
	Nonce         Nonce
	Memo          string
	Failed        bool
	FailureReason string // preserved verbatim from source JSON, never recomputed.
}

// InternalCommand is a child row of a Block, keyed by (state_hash, sequence_index).
type InternalCommand struct {
	StateHash StateHash
	SeqIndex  uint32
	Kind      InternalCommandKind
	Receiver  PublicKey
	Amount    Amount
}

// SnarkJob is a child row of a Block recording a completed SNARK work item.
type SnarkJob struct {
	StateHash StateHash
	SeqIndex  uint32
	Prover    PublicKey
	Fee       Fee
}

// Block is immutable once stored.
type Block struct {
	StateHash         StateHash
	ParentHash        StateHash // empty for genesis
	Height            BlockHeight
	Slot              GlobalSlot
	Epoch             Epoch
	Creator           PublicKey
	CoinbaseReceiver  PublicKey
	LastVrfOutput     string // fork-choice tiebreak input
	DateTime          int64  // unix seconds, as reported by the protocol state
	ReceivedTime      int64  // unix seconds, local ingest wall-clock
	TxFees            Fee
	SnarkFees         Fee
	CoinbaseAmount    Amount
	UserCommands      []UserCommand
	InternalCommands  []InternalCommand
	SnarkJobs         []SnarkJob
	ProtocolStateBlob []byte
}

// AccountTiming captures vesting/timing parameters carried on an account.
type AccountTiming struct {
	InitialMinimumBalance Amount
	CliffTime             GlobalSlot
	CliffAmount           Amount
	VestingPeriod         GlobalSlot
	VestingIncrement      Amount
}

// Account is mutable and versioned per canonical block height.
type Account struct {
	PublicKey        PublicKey
	Balance          Amount
	Nonce            Nonce
	Delegate         PublicKey
	ReceiptChainHash string
	VotingFor        StateHash
	Timing           AccountTiming
	// TotalReceived accumulates every credit the account has ever taken
	// on the canonical chain, independent of later spending.
	TotalReceived Amount
}

// ChainTip summarizes the engine's current view of the canonical chain.
type ChainTip struct {
	BestStateHash StateHash
	BestHeight    BlockHeight
	RootStateHash StateHash
	RootHeight    BlockHeight
}

// StakingLedgerEntry is one account row within a StakingLedger snapshot.
type StakingLedgerEntry struct {
	PublicKey PublicKey
	Balance   Amount
	Delegate  PublicKey
}

// StakingLedger is an immutable per-epoch snapshot used for consensus eligibility.
type StakingLedger struct {
	Epoch      Epoch
	LedgerHash string
	Entries    map[PublicKey]StakingLedgerEntry
}

// Aggregate is a per-epoch or global counter set.
type Aggregate struct {
	NumBlocks           uint64
	NumUserCommands     uint64
	NumInternalCommands uint64
	NumSnarks           uint64
}
