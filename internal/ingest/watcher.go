package ingest

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// watcher feeds the admission queue from the two drop-zone directories: an
// initial scan of whatever is already on disk, then fsnotify events for
// files arriving afterwards. Files whose names do not match the drop-zone
// convention are counted and skipped, never fatal.
type watcher struct {
	blocksDir  string
	ledgersDir string
	out        chan<- queueItem

	// cursorHeight is the height encoded in the persisted watcher cursor;
	// block files strictly below it were already admitted before the last
	// shutdown and are skipped during the initial scan.
	cursorHeight uint32
}

// run performs the initial scan and then blocks on fsnotify events until
// ctx is cancelled.
func (w *watcher) run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create filesystem watcher")
	}
	defer fsw.Close()

	for _, dir := range []string{w.blocksDir, w.ledgersDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create drop-zone directory")
		}
		if err := fsw.Add(dir); err != nil {
			return errors.Wrapf(err, "watch %s", dir)
		}
	}

	// Scan after Add so files landing mid-scan are not lost; the admission
	// path is idempotent, so seeing a file twice is harmless. Ledgers scan
	// first: the genesis ledger must seed the account baseline before any
	// block spends from it.
	if err := w.scan(ctx, w.ledgersDir, stakingLedgerFile); err != nil {
		return err
	}
	if err := w.scan(ctx, w.blocksDir, blockFile); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			kind := blockFile
			if filepath.Dir(ev.Name) == filepath.Clean(w.ledgersDir) {
				kind = stakingLedgerFile
			}
			w.offer(ctx, ev.Name, kind, false)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Filesystem watcher error")
		}
	}
}

func (w *watcher) scan(ctx context.Context, dir string, kind fileKind) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "scan %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		w.offer(ctx, filepath.Join(dir, e.Name()), kind, true)
	}
	return nil
}

// offer parses the filename and, if admissible, enqueues the file.
// Backpressure is by queue fill: offer blocks when the channel is full
// rather than dropping.
func (w *watcher) offer(ctx context.Context, path string, kind fileKind, initialScan bool) {
	name := filepath.Base(path)
	var it queueItem
	switch kind {
	case blockFile:
		parsed, ok := ParseBlockFilename(name)
		if !ok {
			log.WithField("file", name).Warn("Skipping file not matching block filename convention")
			filesQuarantined.Inc()
			return
		}
		if initialScan && uint32(parsed.Height) < w.cursorHeight {
			return // already admitted before the last shutdown
		}
		it = queueItem{kind: kind, path: path, name: name, height: uint32(parsed.Height)}
	case stakingLedgerFile:
		parsed, ok := ParseStakingLedgerFilename(name)
		if !ok {
			log.WithField("file", name).Warn("Skipping file not matching staking ledger filename convention")
			filesQuarantined.Inc()
			return
		}
		it = queueItem{kind: kind, path: path, name: name, height: uint32(parsed.Epoch)}
	}
	it.receivedTime = time.Now().Unix()

	select {
	case w.out <- it:
	case <-ctx.Done():
	}
}
