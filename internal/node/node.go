// Package node assembles the indexer: it opens the database, wires the
// ingest, GraphQL and IPC services through a service registry, and owns
// process lifecycle — signals, graceful drain, fatal escalation. A single
// top-level supervisor injects handles into services at startup; no
// process-wide singletons.
package node

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/minaprotocol/mina-indexer/internal/api/graphql"
	"github.com/minaprotocol/mina-indexer/internal/api/ipc"
	"github.com/minaprotocol/mina-indexer/internal/db/kv"
	"github.com/minaprotocol/mina-indexer/internal/errkind"
	"github.com/minaprotocol/mina-indexer/internal/flags"
	"github.com/minaprotocol/mina-indexer/internal/ingest"
	"github.com/minaprotocol/mina-indexer/internal/query"
)

// ErrSignalled reports that the process stopped on SIGINT/SIGTERM; main
// maps it to exit code 130.
var ErrSignalled = errors.New("interrupted by signal")

// Indexer is the top-level supervisor owning every service and the store.
type Indexer struct {
	ctx      context.Context
	cancel   context.CancelFunc
	services *ServiceRegistry
	db       *kv.Store

	lock    sync.Mutex
	stop    chan struct{}
	stopped bool
	exitErr error
}

// New builds a fully wired but not yet started indexer from CLI flags.
func New(cliCtx *cli.Context) (*Indexer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	idx := &Indexer{
		ctx:      ctx,
		cancel:   cancel,
		services: NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	db, err := kv.Open(cliCtx.String(flags.DatabaseDirFlag.Name))
	if err != nil {
		cancel()
		return nil, err
	}
	idx.db = db

	resolver, err := query.NewResolver(db)
	if err != nil {
		cancel()
		return nil, err
	}

	ingestSvc, err := ingest.NewService(ctx, &ingest.Config{
		BlocksDir:         cliCtx.String(flags.BlocksDirFlag.Name),
		StakingLedgersDir: cliCtx.String(flags.StakingLedgersDirFlag.Name),
		Store:             db,
		FatalHandler:      idx.fatalShutdown,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	if err := idx.services.RegisterService(ingestSvc); err != nil {
		cancel()
		return nil, err
	}

	gqlSvc, err := graphql.NewService(cliCtx.String(flags.GraphQLAddrFlag.Name), resolver)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := idx.services.RegisterService(gqlSvc); err != nil {
		cancel()
		return nil, err
	}

	ipcSvc := ipc.NewService(ctx, cliCtx.String(flags.DomainSocketPathFlag.Name), resolver, func() {
		go idx.Close(nil)
	})
	if err := idx.services.RegisterService(ipcSvc); err != nil {
		cancel()
		return nil, err
	}

	return idx, nil
}

// Start kicks off every registered service and blocks until the indexer
// stops — by signal, IPC shutdown, or fatal error.
func (i *Indexer) Start() {
	log.Info("Starting indexer node")
	i.services.StartAll()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go i.Close(ErrSignalled)
		for n := 10; n > 0; n-- {
			<-sigc
			if n > 1 {
				log.WithField("times", n-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the indexer node")
	}()

	<-i.stop
}

// Close handles graceful shutdown: drain the ingest queue, complete the
// in-flight batch, flush the store, release everything.
func (i *Indexer) Close(reason error) {
	i.lock.Lock()
	defer i.lock.Unlock()
	if i.stopped {
		return
	}
	i.stopped = true
	i.exitErr = reason

	log.Info("Stopping indexer node")
	i.services.StopAll()
	i.cancel()
	if err := i.db.Close(); err != nil {
		log.WithError(err).Error("Could not close database")
	}
	close(i.stop)
}

// fatalShutdown is handed to the ingest service: unrecoverable errors
// flush everything and surface through ExitErr, keeping the database
// consistent (all writes were atomic batches).
func (i *Indexer) fatalShutdown(err error) {
	log.WithError(err).Error("Fatal error, shutting down")
	if !errkind.IsFatal(err) {
		err = errors.Wrap(err, "unrecoverable")
	}
	go i.Close(err)
}

// ExitErr reports why the indexer stopped: nil for a clean IPC shutdown,
// ErrSignalled for an interrupt, anything else is a fatal runtime error.
func (i *Indexer) ExitErr() error {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.exitErr
}
