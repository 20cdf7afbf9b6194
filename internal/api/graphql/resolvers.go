// Package graphql is the HTTP/GraphQL framing over the query resolver
// adapter. The schema is hand-written and resolved against
// graph-gophers/graphql-go; no indexing logic lives here — every field
// delegates to internal/query.
package graphql

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/query"
)

// Resolver is the root query resolver.
type Resolver struct {
	q *query.Resolver
}

// NewResolver wires the root resolver over the query adapter.
func NewResolver(q *query.Resolver) *Resolver {
	return &Resolver{q: q}
}

type blockQueryInput struct {
	StateHash        *string
	Canonical        *bool
	Creator          *string
	CoinbaseReceiver *string
	BlockHeight      *int32
	BlockHeight_gt   *int32
	BlockHeight_gte  *int32
	BlockHeight_lt   *int32
	BlockHeight_lte  *int32
	ProtocolState    *protocolStateQueryInput
}

type protocolStateQueryInput struct {
	ConsensusState *consensusStateQueryInput
}

type consensusStateQueryInput struct {
	SlotSinceGenesis     *int32
	SlotSinceGenesis_gt  *int32
	SlotSinceGenesis_gte *int32
	SlotSinceGenesis_lt  *int32
	SlotSinceGenesis_lte *int32
}

func (in *blockQueryInput) toQuery() query.BlocksQuery {
	var q query.BlocksQuery
	if in == nil {
		return q
	}
	if in.StateHash != nil {
		h := model.StateHash(*in.StateHash)
		q.StateHash = &h
	}
	q.Canonical = in.Canonical
	if in.Creator != nil {
		pk := model.PublicKey(*in.Creator)
		q.Creator = &pk
	}
	if in.CoinbaseReceiver != nil {
		pk := model.PublicKey(*in.CoinbaseReceiver)
		q.CoinbaseReceiver = &pk
	}
	q.BlockHeight = u32(in.BlockHeight)
	q.BlockHeightGt = u32(in.BlockHeight_gt)
	q.BlockHeightGte = u32(in.BlockHeight_gte)
	q.BlockHeightLt = u32(in.BlockHeight_lt)
	q.BlockHeightLte = u32(in.BlockHeight_lte)
	if in.ProtocolState != nil && in.ProtocolState.ConsensusState != nil {
		cs := in.ProtocolState.ConsensusState
		q.SlotSinceGenesis = u32(cs.SlotSinceGenesis)
		q.SlotSinceGenesisGt = u32(cs.SlotSinceGenesis_gt)
		q.SlotSinceGenesisGte = u32(cs.SlotSinceGenesis_gte)
		q.SlotSinceGenesisLt = u32(cs.SlotSinceGenesis_lt)
		q.SlotSinceGenesisLte = u32(cs.SlotSinceGenesis_lte)
	}
	return q
}

func u32(v *int32) *uint32 {
	if v == nil {
		return nil
	}
	u := uint32(*v)
	return &u
}

// Blocks resolves the blocks root field.
func (r *Resolver) Blocks(ctx context.Context, args struct {
	Query  *blockQueryInput
	Limit  *int32
	SortBy *string
}) ([]*blockResolver, error) {
	q := args.Query.toQuery()
	if args.Limit != nil {
		q.Limit = int(*args.Limit)
	}
	if args.SortBy != nil {
		q.Sort = query.Sort(*args.SortBy)
	}
	results, err := r.q.Blocks(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*blockResolver, len(results))
	for i, res := range results {
		out[i] = &blockResolver{res: res}
	}
	return out, nil
}

// Block resolves a single block by state hash.
func (r *Resolver) Block(ctx context.Context, args struct{ StateHash string }) (*blockResolver, error) {
	hash := model.StateHash(args.StateHash)
	results, err := r.q.Blocks(ctx, query.BlocksQuery{StateHash: &hash})
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &blockResolver{res: results[0]}, nil
}

// Account resolves an account at a height (absent height means best tip).
func (r *Resolver) Account(ctx context.Context, args struct {
	PublicKey string
	Height    *int32
}) (*accountResolver, error) {
	var at model.BlockHeight
	if args.Height != nil {
		at = model.BlockHeight(*args.Height)
	}
	acc, err := r.q.Account(ctx, model.PublicKey(args.PublicKey), at)
	if err != nil {
		if errors.Is(err, errkind.NotFound) {
			// An unknown account surfaces as null, not as an error.
			return nil, nil
		}
		return nil, err
	}
	return &accountResolver{q: r.q, acc: acc, at: at}, nil
}

// Summary resolves the chain overview.
func (r *Resolver) Summary(ctx context.Context) (*summaryResolver, error) {
	s, err := r.q.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return &summaryResolver{s: s}, nil
}

// StakingLedger resolves a stored snapshot.
func (r *Resolver) StakingLedger(ctx context.Context, args struct {
	Epoch      int32
	LedgerHash string
}) (*stakingLedgerResolver, error) {
	snapshot, err := r.q.StakingLedger(ctx, model.Epoch(args.Epoch), args.LedgerHash)
	if err != nil {
		if errors.Is(err, errkind.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stakingLedgerResolver{l: snapshot}, nil
}

type blockResolver struct {
	res query.BlockResult
}

func (b *blockResolver) StateHash() string         { return string(b.res.Block.StateHash) }
func (b *blockResolver) PreviousStateHash() string { return string(b.res.Block.ParentHash) }
func (b *blockResolver) BlockHeight() int32        { return int32(b.res.Block.Height) }
func (b *blockResolver) Canonical() bool           { return b.res.Canonical }
func (b *blockResolver) Creator() string           { return string(b.res.Block.Creator) }
func (b *blockResolver) CoinbaseReceiver() string  { return string(b.res.Block.CoinbaseReceiver) }
func (b *blockResolver) Epoch() int32              { return int32(b.res.Block.Epoch) }
func (b *blockResolver) TxFees() string            { return strconv.FormatUint(uint64(b.res.Block.TxFees), 10) }
func (b *blockResolver) SnarkFees() string         { return strconv.FormatUint(uint64(b.res.Block.SnarkFees), 10) }

func (b *blockResolver) DateTime() string {
	return time.Unix(b.res.Block.DateTime, 0).UTC().Format(time.RFC3339)
}

func (b *blockResolver) ReceivedTime() string {
	return time.Unix(b.res.Block.ReceivedTime, 0).UTC().Format(time.RFC3339)
}

func (b *blockResolver) ProtocolState() *protocolStateResolver {
	return &protocolStateResolver{b: b.res.Block}
}

func (b *blockResolver) Transactions() *transactionsResolver {
	return &transactionsResolver{b: b.res.Block}
}

func (b *blockResolver) SnarkJobs() []*snarkJobResolver {
	out := make([]*snarkJobResolver, len(b.res.Block.SnarkJobs))
	for i := range b.res.Block.SnarkJobs {
		out[i] = &snarkJobResolver{job: b.res.Block.SnarkJobs[i], height: b.res.Block.Height}
	}
	return out
}

type protocolStateResolver struct {
	b *model.Block
}

func (p *protocolStateResolver) PreviousStateHash() string { return string(p.b.ParentHash) }
func (p *protocolStateResolver) ConsensusState() *consensusStateResolver {
	return &consensusStateResolver{b: p.b}
}

type consensusStateResolver struct {
	b *model.Block
}

func (c *consensusStateResolver) BlockHeight() int32      { return int32(c.b.Height) }
func (c *consensusStateResolver) SlotSinceGenesis() int32 { return int32(c.b.Slot) }
func (c *consensusStateResolver) Epoch() int32            { return int32(c.b.Epoch) }
func (c *consensusStateResolver) LastVrfOutput() string   { return c.b.LastVrfOutput }
func (c *consensusStateResolver) BlockCreator() string    { return string(c.b.Creator) }
func (c *consensusStateResolver) CoinbaseReceiver() string {
	return string(c.b.CoinbaseReceiver)
}

type transactionsResolver struct {
	b *model.Block
}

func (t *transactionsResolver) Coinbase() string {
	return strconv.FormatUint(uint64(t.b.CoinbaseAmount), 10)
}

func (t *transactionsResolver) UserCommands() []*userCommandResolver {
	out := make([]*userCommandResolver, len(t.b.UserCommands))
	for i := range t.b.UserCommands {
		out[i] = &userCommandResolver{cmd: t.b.UserCommands[i], height: t.b.Height}
	}
	return out
}

func (t *transactionsResolver) FeeTransfer() []*feeTransferResolver {
	var out []*feeTransferResolver
	for _, cmd := range t.b.InternalCommands {
		if cmd.Kind == model.Coinbase {
			continue
		}
		out = append(out, &feeTransferResolver{cmd: cmd})
	}
	if out == nil {
		out = []*feeTransferResolver{}
	}
	return out
}

type userCommandResolver struct {
	cmd    model.UserCommand
	height model.BlockHeight
}

func (u *userCommandResolver) Kind() string   { return string(u.cmd.Kind) }
func (u *userCommandResolver) From() string   { return string(u.cmd.Source) }
func (u *userCommandResolver) To() string     { return string(u.cmd.Receiver) }
func (u *userCommandResolver) Amount() string { return strconv.FormatUint(uint64(u.cmd.Amount), 10) }
func (u *userCommandResolver) Fee() string    { return strconv.FormatUint(uint64(u.cmd.Fee), 10) }
func (u *userCommandResolver) Nonce() int32   { return int32(u.cmd.Nonce) }
func (u *userCommandResolver) Memo() string   { return u.cmd.Memo }

func (u *userCommandResolver) FailureReason() *string {
	if !u.cmd.Failed {
		return nil
	}
	reason := u.cmd.FailureReason
	return &reason
}

func (u *userCommandResolver) BlockHeight() int32     { return int32(u.height) }
func (u *userCommandResolver) BlockStateHash() string { return string(u.cmd.StateHash) }

type feeTransferResolver struct {
	cmd model.InternalCommand
}

func (f *feeTransferResolver) Recipient() string { return string(f.cmd.Receiver) }
func (f *feeTransferResolver) Fee() string       { return strconv.FormatUint(uint64(f.cmd.Amount), 10) }
func (f *feeTransferResolver) Type() string      { return string(f.cmd.Kind) }

type snarkJobResolver struct {
	job    model.SnarkJob
	height model.BlockHeight
}

func (s *snarkJobResolver) Prover() string         { return string(s.job.Prover) }
func (s *snarkJobResolver) Fee() string            { return strconv.FormatUint(uint64(s.job.Fee), 10) }
func (s *snarkJobResolver) BlockHeight() int32     { return int32(s.height) }
func (s *snarkJobResolver) BlockStateHash() string { return string(s.job.StateHash) }

type accountResolver struct {
	q   *query.Resolver
	acc *model.Account
	at  model.BlockHeight
}

func (a *accountResolver) PublicKey() string { return string(a.acc.PublicKey) }
func (a *accountResolver) Balance() string   { return strconv.FormatUint(uint64(a.acc.Balance), 10) }
func (a *accountResolver) Nonce() int32      { return int32(a.acc.Nonce) }
func (a *accountResolver) Delegate() string  { return string(a.acc.Delegate) }
func (a *accountResolver) VotingFor() string { return string(a.acc.VotingFor) }
func (a *accountResolver) ReceiptChainHash() string {
	return a.acc.ReceiptChainHash
}

func (a *accountResolver) TotalEverReceived() string {
	return strconv.FormatUint(uint64(a.acc.TotalReceived), 10)
}

func (a *accountResolver) DelegatedBalance(ctx context.Context) (string, error) {
	total, err := a.q.DelegatedBalance(ctx, a.acc.PublicKey, a.at)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(uint64(total), 10), nil
}

type summaryResolver struct {
	s query.Summary
}

func (s *summaryResolver) BestStateHash() string { return string(s.s.Tip.BestStateHash) }
func (s *summaryResolver) BestHeight() int32     { return int32(s.s.Tip.BestHeight) }
func (s *summaryResolver) RootStateHash() string { return string(s.s.Tip.RootStateHash) }
func (s *summaryResolver) RootHeight() int32     { return int32(s.s.Tip.RootHeight) }
func (s *summaryResolver) Epoch() int32          { return int32(s.s.Epoch) }
func (s *summaryResolver) NumBlocks() string {
	return strconv.FormatUint(s.s.Counters.NumBlocks, 10)
}
func (s *summaryResolver) NumUserCommands() string {
	return strconv.FormatUint(s.s.Counters.NumUserCommands, 10)
}
func (s *summaryResolver) NumInternalCommands() string {
	return strconv.FormatUint(s.s.Counters.NumInternalCommands, 10)
}
func (s *summaryResolver) NumSnarks() string {
	return strconv.FormatUint(s.s.Counters.NumSnarks, 10)
}

type stakingLedgerResolver struct {
	l *model.StakingLedger
}

func (s *stakingLedgerResolver) Epoch() int32       { return int32(s.l.Epoch) }
func (s *stakingLedgerResolver) LedgerHash() string { return s.l.LedgerHash }

func (s *stakingLedgerResolver) Entries() []*stakingLedgerEntryResolver {
	out := make([]*stakingLedgerEntryResolver, 0, len(s.l.Entries))
	for _, e := range s.l.Entries {
		out = append(out, &stakingLedgerEntryResolver{e: e})
	}
	return out
}

type stakingLedgerEntryResolver struct {
	e model.StakingLedgerEntry
}

func (s *stakingLedgerEntryResolver) PublicKey() string { return string(s.e.PublicKey) }
func (s *stakingLedgerEntryResolver) Balance() string {
	return strconv.FormatUint(uint64(s.e.Balance), 10)
}
func (s *stakingLedgerEntryResolver) Delegate() string { return string(s.e.Delegate) }
