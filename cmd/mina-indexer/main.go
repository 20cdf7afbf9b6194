// Package main is the mina-indexer entrypoint: a `server` command group
// with `start` and `shutdown` subcommands, exit codes 0 (clean), 1 (config
// error), 2 (fatal runtime error) and 130 (signalled).
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/minaprotocol/mina-indexer/internal/api/ipc"
	"github.com/minaprotocol/mina-indexer/internal/flags"
	"github.com/minaprotocol/mina-indexer/internal/node"
	"github.com/minaprotocol/mina-indexer/internal/version"
)

var log = logrus.WithField("prefix", "main")

const (
	exitClean     = 0
	exitConfig    = 1
	exitFatal     = 2
	exitSignalled = 130
)

var startFlags = []cli.Flag{
	flags.BlocksDirFlag,
	flags.StakingLedgersDirFlag,
	flags.DatabaseDirFlag,
	flags.DomainSocketPathFlag,
	flags.GraphQLAddrFlag,
	flags.LogLevelFlag,
	flags.LogFormatFlag,
}

func main() {
	app := &cli.App{
		Name:    "mina-indexer",
		Usage:   "indexer for Mina precomputed blocks and staking ledgers",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "control the indexer server",
				Subcommands: []*cli.Command{
					{
						Name:   "start",
						Usage:  "start ingesting and serving queries",
						Flags:  startFlags,
						Before: setupLogging,
						Action: startServer,
					},
					{
						Name:   "shutdown",
						Usage:  "request a running server to shut down over its socket",
						Flags:  []cli.Flag{flags.DomainSocketPathFlag},
						Action: shutdownServer,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
}

func setupLogging(cliCtx *cli.Context) error {
	level, err := logrus.ParseLevel(cliCtx.String(flags.LogLevelFlag.Name))
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	logrus.SetLevel(level)

	switch format := cliCtx.String(flags.LogFormatFlag.Name); format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		logrus.SetFormatter(formatter)
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	return nil
}

func startServer(cliCtx *cli.Context) error {
	idx, err := node.New(cliCtx)
	if err != nil {
		log.WithError(err).Error("Could not start indexer")
		os.Exit(exitConfig)
	}
	idx.Start()

	switch exitErr := idx.ExitErr(); {
	case exitErr == nil:
		os.Exit(exitClean)
	case errors.Is(exitErr, node.ErrSignalled):
		os.Exit(exitSignalled)
	default:
		os.Exit(exitFatal)
	}
	return nil
}

func shutdownServer(cliCtx *cli.Context) error {
	socket := cliCtx.String(flags.DomainSocketPathFlag.Name)
	resp, err := ipc.Dial(socket, ipc.VerbShutdown, nil)
	if err != nil {
		return errors.Wrapf(err, "could not reach server at %s", socket)
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	log.Info("Server acknowledged shutdown")
	return nil
}
