// Package ingest drives the indexer's write path: it watches the two
// drop-zone directories, admits files lowest-height-first, persists blocks
// and staking ledgers, and feeds the block-tree engine and ledger
// pipeline. It owns the in-memory tree exclusively; external access goes
// through the TipInfo request channel, never a shared lock.
package ingest

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/minaprotocol/mina-indexer/internal/db/kv"
	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/ledger"
	"github.com/minaprotocol/mina-indexer/internal/model"
	"github.com/minaprotocol/mina-indexer/internal/params"
	"github.com/minaprotocol/mina-indexer/internal/tree"
)

// Config holds the ingest service's dependencies and drop-zone paths.
type Config struct {
	BlocksDir         string
	StakingLedgersDir string
	Store             *kv.Store
	// FatalHandler is invoked when the service hits an unrecoverable error
	// (CorruptLineage, ReorgTooDeep, NoSnapshotForReorg, or storage retries
	// exhausted); the supervisor uses it to flush and exit non-zero.
	FatalHandler func(error)
}

// Service is the ingest worker, registered with the node supervisor:
// NewService, Start (spawns the run loop), Stop (cancels and drains),
// Status.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config
	store  *kv.Store

	tree     *tree.Tree
	pipeline *ledger.Pipeline

	incoming chan queueItem
	queue    admissionQueue
	cursor   string

	admissions int
	tipReqs    chan chan model.ChainTip
	done       chan struct{}
	runErr     error
}

// NewService rebuilds the in-memory state from the store: the ledger
// pipeline replays the canonical chain, and the tree is re-seeded from the
// persisted root with every block still above it.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		store:    cfg.Store,
		incoming: make(chan queueItem, params.Current().IngestQueueSize),
		tipReqs:  make(chan chan model.ChainTip),
		done:     make(chan struct{}),
	}

	cursor, err := cfg.Store.GetWatcherCursor()
	if err != nil {
		cancel()
		return nil, err
	}
	s.cursor = cursor

	var baseline map[model.PublicKey]model.StakingLedgerEntry
	if genesis, err := cfg.Store.EarliestStakingLedger(); err == nil {
		baseline = genesis.Entries
	} else if !errors.Is(err, errkind.NotFound) {
		cancel()
		return nil, err
	}

	pipeline, err := ledger.NewPipeline(cfg.Store, baseline)
	if err != nil {
		cancel()
		return nil, err
	}
	s.pipeline = pipeline

	if err := s.rebuildTree(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// rebuildTree re-seeds the arena from the persisted root and re-adds every
// stored block above it; Add is idempotent and the orphan pool absorbs any
// ordering, so a plain height-ascending walk suffices.
func (s *Service) rebuildTree() error {
	tip := s.pipeline.Tip()
	if tip.RootStateHash == "" {
		return nil // fresh database; the tree roots itself on the first admitted block
	}
	root, err := s.store.GetBlock(tip.RootStateHash)
	if err != nil {
		return errors.Wrap(err, "load persisted root")
	}
	s.tree = tree.NewTree(headerOf(root))
	err = s.store.IterByHeight(root.Height+1, 0, true, func(b *model.Block) (bool, error) {
		if addErr := s.tree.Add(headerOf(b)); addErr != nil && !errors.Is(addErr, tree.ErrBelowRoot) {
			return false, addErr
		}
		return true, nil
	})
	if err != nil {
		return errors.Wrap(err, "re-add stored blocks")
	}
	if _, err := s.tree.Reevaluate(); err != nil {
		return err
	}
	return nil
}

func headerOf(b *model.Block) tree.Header {
	return tree.Header{
		Hash:         b.StateHash,
		Parent:       b.ParentHash,
		Height:       b.Height,
		Slot:         b.Slot,
		LastVrf:      b.LastVrfOutput,
		ReceivedTime: b.ReceivedTime,
	}
}

// Start spawns the watcher and the ingest loop.
func (s *Service) Start() {
	log.WithFields(logrus.Fields{
		"blocksDir":  s.cfg.BlocksDir,
		"ledgersDir": s.cfg.StakingLedgersDir,
	}).Info("Starting ingest service")
	go s.run()
}

// Stop cancels the run loop and waits for the in-flight batch to finish;
// cancellation takes effect between batches only.
func (s *Service) Stop() error {
	s.cancel()
	<-s.done
	return nil
}

// Status returns the terminal error of the run loop, if any.
func (s *Service) Status() error {
	return s.runErr
}

// TipInfo returns the chain tip as seen by the ingest worker, answered by
// the owning goroutine over a request/response channel pair.
func (s *Service) TipInfo(ctx context.Context) (model.ChainTip, error) {
	resp := make(chan model.ChainTip, 1)
	select {
	case s.tipReqs <- resp:
	case <-s.ctx.Done():
		return model.ChainTip{}, errkind.New(errkind.Shutdown, "ingest service stopping")
	case <-ctx.Done():
		return model.ChainTip{}, ctx.Err()
	}
	select {
	case tip := <-resp:
		return tip, nil
	case <-ctx.Done():
		return model.ChainTip{}, ctx.Err()
	}
}

func (s *Service) run() {
	defer close(s.done)

	g, ctx := errgroup.WithContext(s.ctx)
	w := &watcher{
		blocksDir:    s.cfg.BlocksDir,
		ledgersDir:   s.cfg.StakingLedgersDir,
		out:          s.incoming,
		cursorHeight: cursorHeight(s.cursor),
	}
	g.Go(func() error { return w.run(ctx) })
	g.Go(func() error { return s.ingestLoop(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errkind.Shutdown) {
		s.runErr = err
		log.WithError(err).Error("Ingest service terminated")
		if s.cfg.FatalHandler != nil {
			s.cfg.FatalHandler(err)
		}
	}
}

// cursorHeight recovers the height window from the persisted cursor
// filename; zero (replay everything) when the cursor is absent or foreign.
func cursorHeight(cursor string) uint32 {
	if cursor == "" {
		return 0
	}
	parsed, ok := ParseBlockFilename(cursor)
	if !ok {
		return 0
	}
	return uint32(parsed.Height)
}

func (s *Service) ingestLoop(ctx context.Context) error {
	ticker := time.NewTicker(params.Current().ReevaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.drainAndFinish()
		case it := <-s.incoming:
			s.queue.push(it)
			s.mergeIncoming()
			if err := s.processQueued(ctx); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.reevaluate(); err != nil {
				return err
			}
		case resp := <-s.tipReqs:
			resp <- s.pipeline.Tip()
		}
	}
}

// mergeIncoming moves everything already buffered on the channel into the
// priority queue, so heights queued together drain lowest-first no matter
// the arrival order.
func (s *Service) mergeIncoming() {
	for {
		select {
		case it := <-s.incoming:
			s.queue.push(it)
		default:
			return
		}
	}
}

func (s *Service) processQueued(ctx context.Context) error {
	for {
		it, ok := s.queue.pop()
		if !ok {
			return nil
		}
		if err := s.processOne(it); err != nil {
			return err
		}
		s.admissions++
		if s.admissions >= params.Current().ReevaluateEvery {
			if err := s.reevaluate(); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return s.drainAndFinish()
		default:
		}
		s.mergeIncoming()
	}
}

// drainAndFinish admits whatever is already queued, runs one final
// re-evaluation, and returns — the graceful-shutdown contract.
func (s *Service) drainAndFinish() error {
	s.mergeIncoming()
	for {
		it, ok := s.queue.pop()
		if !ok {
			break
		}
		if err := s.processOne(it); err != nil {
			return err
		}
	}
	return s.reevaluate()
}

func (s *Service) processOne(it queueItem) error {
	data, err := os.ReadFile(it.path)
	if err != nil {
		log.WithError(err).WithField("file", it.name).Warn("Could not read drop-zone file")
		return nil
	}

	switch it.kind {
	case blockFile:
		return s.admitBlock(it, data)
	case stakingLedgerFile:
		return s.admitStakingLedger(it, data)
	}
	return nil
}

func (s *Service) admitBlock(it queueItem, data []byte) error {
	parsedName, _ := ParseBlockFilename(it.name)
	block, err := ParseBlockFile(data, parsedName, it.receivedTime)
	if err != nil {
		log.WithError(err).WithField("file", it.name).Warn("Quarantining unparseable block file")
		filesQuarantined.Inc()
		return nil
	}
	if block.StateHash != parsedName.StateHash || block.Height != parsedName.Height {
		log.WithField("file", it.name).Warn("Quarantining block file whose name contradicts its contents")
		filesQuarantined.Inc()
		return nil
	}

	var already bool
	err = s.retryStorage(func() error {
		var putErr error
		already, putErr = s.store.PutBlockWithCursor(block, it.name)
		return putErr
	})
	if err != nil {
		return err
	}
	s.cursor = it.name

	if s.tree == nil {
		return s.rootTreeAt(block)
	}
	if err := s.tree.Add(headerOf(block)); err != nil {
		if errors.Is(err, tree.ErrBelowRoot) {
			log.WithField("block", block.StateHash).Debug("Skipping block below the persisted root")
			return nil
		}
		return err
	}
	if !already {
		blocksAdmitted.Inc()
		log.WithFields(logrus.Fields{
			"height": block.Height,
			"block":  block.StateHash,
			"size":   humanize.Bytes(uint64(len(data))),
		}).Debug("Admitted block")
	}
	return nil
}

// rootTreeAt seeds the tree with the first block a fresh database admits,
// and canonicalizes that block immediately — the tree treats its root as
// already-applied, so the root block must flow through the pipeline here
// rather than through a later delta.
func (s *Service) rootTreeAt(block *model.Block) error {
	s.tree = tree.NewTree(headerOf(block))
	err := s.retryStorage(func() error {
		return s.pipeline.ApplyDelta(nil, []model.StateHash{block.StateHash}, block.StateHash, block.Height, s.cursor)
	})
	if err != nil {
		return err
	}
	blocksAdmitted.Inc()
	log.WithFields(logrus.Fields{
		"height": block.Height,
		"block":  block.StateHash,
	}).Info("Rooted block tree")
	return nil
}

// reevaluate asks the tree for a new best tip and, when it moved, drains
// the resulting delta through the ledger pipeline as one batch, then
// advances the root if the tip has enough confirmations behind it.
func (s *Service) reevaluate() error {
	s.admissions = 0
	if s.tree == nil {
		return nil
	}
	d, err := s.tree.Reevaluate()
	if err != nil {
		return err
	}
	if len(d.Apply) == 0 && len(d.Unapply) == 0 {
		return nil
	}
	if len(d.Unapply) > 0 {
		reorgsProcessed.Inc()
		log.WithFields(logrus.Fields{
			"unapply": len(d.Unapply),
			"apply":   len(d.Apply),
			"oldTip":  d.OldTip,
			"newTip":  d.NewTip,
		}).Info("Applying chain reorganization")
	}
	err = s.retryStorage(func() error {
		return s.pipeline.ApplyDelta(d.Unapply, d.Apply, "", 0, s.cursor)
	})
	if err != nil {
		return err
	}

	oldRoot := s.tree.Root()
	newRoot, evicted, err := s.tree.AdvanceRoot()
	if err != nil {
		return err
	}
	if newRoot != oldRoot {
		rootHeader, _ := s.tree.Header(newRoot)
		if err := s.retryStorage(func() error {
			return s.pipeline.SetRoot(newRoot, rootHeader.Height)
		}); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"root":    newRoot,
			"height":  rootHeader.Height,
			"evicted": len(evicted),
		}).Debug("Advanced root")
	}
	return nil
}

func (s *Service) admitStakingLedger(it queueItem, data []byte) error {
	parsedName, _ := ParseStakingLedgerFilename(it.name)
	stakingLedger, err := ParseStakingLedgerFile(data, parsedName)
	if err != nil {
		log.WithError(err).WithField("file", it.name).Warn("Quarantining unparseable staking ledger file")
		filesQuarantined.Inc()
		return nil
	}
	if err := s.retryStorage(func() error { return s.store.PutStakingLedger(stakingLedger) }); err != nil {
		return err
	}
	// The genesis ledger doubles as the account baseline when no block has
	// been applied yet: it seeds the working ledger, the height-0 account
	// rows, and the reverse delegate index.
	if s.pipeline.Tip().BestStateHash == "" {
		s.pipeline.Bootstrap(stakingLedger.Entries)
		if err := s.retryStorage(func() error { return s.store.SeedGenesisLedger(stakingLedger.Entries) }); err != nil {
			return err
		}
	}
	stakingLedgersAdmitted.Inc()
	log.WithFields(logrus.Fields{
		"epoch":    stakingLedger.Epoch,
		"accounts": len(stakingLedger.Entries),
		"size":     humanize.Bytes(uint64(len(data))),
	}).Info("Admitted staking ledger")
	return nil
}

// retryStorage retries Storage errors with exponential backoff up to the
// configured cap, then escalates to fatal. Non-storage errors pass through
// untouched.
func (s *Service) retryStorage(op func() error) error {
	backoff := params.Current().StorageRetryBackoff
	for {
		err := op()
		if err == nil || !errors.Is(err, errkind.Storage) {
			return err
		}
		if backoff > params.Current().StorageRetryCap {
			return errors.Wrap(err, "storage retries exhausted")
		}
		log.WithError(err).WithField("backoff", backoff).Warn("Storage error, backing off")
		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return errkind.New(errkind.Shutdown, "shutdown during storage retry")
		}
		backoff *= 2
	}
}
