// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/smartcash/smartd/chaincfg"
)

const (
	defaultConfigFilename   = "smartd.conf"
	defaultDataDirname      = "data"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "smartd.log"
	defaultDebugLevel       = "info"
	defaultUtxoCacheMaxSize = 150 // MiB
	defaultMaxOrphanTxs     = 100
	defaultMaxOrphanTxSize  = 100000
	defaultMempoolMaxSizeMB = 300
	defaultFreeTxRelayLimit = 15.0
	defaultMaxAncestors     = 25
	defaultMaxAncestorSize  = 101000
	defaultMaxDescendants   = 25
	defaultMaxDescendantSz  = 101000
)

var (
	defaultHomeDir    = btcutil.AppDataDir("smartd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for smartd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion      bool    `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile       string  `short:"C" long:"configfile" description:"Path to configuration file"`
	HomeDir          string  `short:"A" long:"appdata" description:"Path to application home directory"`
	DataDir          string  `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir           string  `long:"logdir" description:"Directory to log output"`
	NoFileLogging    bool    `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel       string  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TestNet          bool    `long:"testnet" description:"Use the test network"`
	RegNet           bool    `long:"regnet" description:"Use the regression test network"`
	UtxoCacheMaxSize uint64  `long:"utxocachemaxsize" description:"The maximum size in MiB of the UTXO cache"`
	Prune            int64   `long:"prune" description:"Delete historical blocks and their undo data once they are this many blocks below the tip (0 disables pruning, minimum 288)"`
	MinRelayTxFee    float64 `long:"minrelaytxfee" description:"The minimum transaction fee in coins/kB to be considered a non-zero fee"`
	FreeTxRelayLimit float64 `long:"limitfreerelay" description:"Limit relay of transactions with no transaction fee to the given amount in thousands of bytes per minute"`
	MaxOrphanTxs     int     `long:"maxorphantx" description:"Max number of orphan transactions to keep in memory"`
	MempoolMaxSizeMB int64   `long:"maxmempool" description:"Max total size of the transaction memory pool in megabytes"`
	MempoolExpiryHrs int64   `long:"mempoolexpiry" description:"Do not keep transactions in the mempool more than this many hours (0 defaults to 336, two weeks)"`
	AcceptNonStd     bool    `long:"acceptnonstd" description:"Accept and relay non-standard transactions to the network regardless of the default settings"`
	TxIndex          bool    `long:"txindex" description:"Maintain a full hash-based transaction index"`
	AddressIndex     bool    `long:"addrindex" description:"Maintain a full address-based transaction index"`
}

// params returns the chain parameters selected by the network options.
func (cfg *config) params() *chaincfg.Params {
	switch {
	case cfg.TestNet:
		return chaincfg.TestNetParams()
	case cfg.RegNet:
		return chaincfg.RegNetParams()
	}
	return chaincfg.MainNetParams()
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if len(path) > 0 && path[0] == '~' {
		homeDir := filepath.Dir(defaultHomeDir)
		path = homeDir + path[1:]
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in smartd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(appName string) (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:       defaultConfigFile,
		HomeDir:          defaultHomeDir,
		DataDir:          defaultDataDir,
		LogDir:           defaultLogDir,
		DebugLevel:       defaultDebugLevel,
		UtxoCacheMaxSize: defaultUtxoCacheMaxSize,
		MinRelayTxFee: float64(chaincfg.MainNetParams().MinRelayTxFee) /
			chaincfg.SatoshiPerCoin,
		FreeTxRelayLimit: defaultFreeTxRelayLimit,
		MaxOrphanTxs:     defaultMaxOrphanTxs,
		MempoolMaxSizeMB: defaultMempoolMaxSizeMB,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			return nil, nil, err
		}
		fmt.Fprintln(os.Stdout, err)
		os.Exit(0)
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go %s)\n", appName, version(),
			runtime.Version())
		os.Exit(0)
	}

	// Update the home directory if specified.  Since the home directory is
	// updated, other variables need to be updated to reflect the new
	// location.
	if preCfg.HomeDir != defaultHomeDir {
		cfg.HomeDir = cleanAndExpandPath(preCfg.HomeDir)
		if preCfg.ConfigFile == defaultConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir,
				defaultConfigFilename)
		} else {
			cfg.ConfigFile = preCfg.ConfigFile
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		iniParser := flags.NewIniParser(parser)
		err := iniParser.ParseFile(cfg.ConfigFile)
		if err != nil {
			return nil, nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	if cfg.TestNet && cfg.RegNet {
		return nil, nil, fmt.Errorf("the testnet and regnet params can not " +
			"be used together -- choose one of the two")
	}

	// Append the network type to the data and log directories so they are
	// "namespaced" per network.
	params := cfg.params()
	cfg.DataDir = filepath.Join(cleanAndExpandPath(cfg.DataDir), params.Name)
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir), params.Name)

	// Validate the pruning options.
	if cfg.Prune != 0 && cfg.Prune < 288 {
		return nil, nil, fmt.Errorf("the prune depth must be 0 or at least " +
			"288 blocks")
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After the log rotation has been initialized,
	// the logger variables may be used.
	if !cfg.NoFileLogging {
		initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", appName, err)
	}

	return &cfg, remainingArgs, nil
}
