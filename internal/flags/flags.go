// Package flags defines the command line flags of the indexer, one
// exported flag variable per option, collected by cmd/mina-indexer into
// the app's flag table.
package flags

import "github.com/urfave/cli/v2"

var (
	// BlocksDirFlag is the precomputed-block drop zone.
	BlocksDirFlag = &cli.StringFlag{
		Name:     "blocks-dir",
		Usage:    "Directory watched for precomputed block JSON files",
		Required: true,
	}
	// StakingLedgersDirFlag is the staking-ledger drop zone.
	StakingLedgersDirFlag = &cli.StringFlag{
		Name:     "staking-ledgers-dir",
		Usage:    "Directory watched for staking ledger JSON files",
		Required: true,
	}
	// DatabaseDirFlag is where the embedded database lives.
	DatabaseDirFlag = &cli.StringFlag{
		Name:     "database-dir",
		Usage:    "Directory holding the embedded key-value database",
		Required: true,
	}
	// DomainSocketPathFlag is the Unix socket the IPC server binds.
	DomainSocketPathFlag = &cli.StringFlag{
		Name:  "domain-socket-path",
		Usage: "Path of the Unix domain socket serving IPC requests",
		Value: "./mina-indexer.sock",
	}
	// GraphQLAddrFlag is the HTTP listen address of the GraphQL endpoint.
	GraphQLAddrFlag = &cli.StringFlag{
		Name:  "graphql-addr",
		Usage: "host:port the GraphQL POST endpoint listens on",
		Value: "127.0.0.1:3085",
	}
	// LogLevelFlag configures logrus verbosity.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Logging verbosity (TRACE, DEBUG, INFO, WARN, ERROR)",
		Value: "INFO",
	}
	// LogFormatFlag selects the log output format.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format (text, json)",
		Value: "text",
	}
)
