// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcfed/fedwallet/internal/cfgutil"
	"github.com/btcfed/fedwallet/netparams"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "fedwallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "fedwalletd.log"
	defaultNetwork        = "mainnet"
	defaultFinalityDelay  = 10
	defaultSyncInterval   = 30 * time.Second
	defaultTimelockDelta  = 10
	defaultFeeBaseMsat    = 1000

	walletDbName     = "wallet.db"
	gatewayDirname   = "gateway"
	defaultLndPort   = "10009"
	minFinalityDelay = 1
)

var (
	btcdDefaultCAFile = filepath.Join(btcutil.AppDataDir("btcd", false), "rpc.cert")
	defaultAppDataDir = btcutil.AppDataDir("fedwallet", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir  string `short:"A" long:"appdata" description:"Application data directory for wallet and gateway state"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Network     string `long:"network" description:"Bitcoin network {mainnet, testnet3, regtest, signet, simnet}"`

	// Blockchain backend
	RPCConnect       string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of btcd or bitcoind RPC server to connect to (default localhost:8332, testnet3: localhost:18332, regtest: localhost:18443, signet: localhost:38332, simnet: localhost:18556)"`
	CAFile           string `long:"cafile" description:"File containing root certificates to authenticate a TLS connection with btcd"`
	DisableClientTLS bool   `long:"noclienttls" description:"Disable TLS for the RPC client"`
	BtcdUsername     string `long:"btcdusername" description:"Username for RPC server authentication"`
	BtcdPassword     string `long:"btcdpassword" default-mask:"-" description:"Password for RPC server authentication"`

	// Federation wallet
	Descriptor     string        `long:"descriptor" description:"Output descriptor of the federation's funds, wsh(sortedmulti(k,key,...)) with an optional checksum"`
	SigningKey     string        `long:"signingkey" default-mask:"-" description:"Extended private key of this federation member, its public key must be in the descriptor"`
	FinalityDelay  uint32        `long:"finalitydelay" description:"Blocks below the chain tip a block must be to be proposed as consensus height"`
	BirthdayHeight uint32        `long:"birthday" description:"First block height scanned for federation outputs"`
	FederationSize int           `long:"federationsize" description:"Number of federation members, enables warnings about undersized consensus rounds"`
	SyncInterval   time.Duration `long:"syncinterval" description:"Interval between chain syncs"`

	// Lightning gateway
	Gateway         bool            `long:"gateway" description:"Run the Lightning gateway"`
	FederationAPI   string          `long:"federationapi" description:"URL of the federation's API"`
	AnnounceURL     string          `long:"announceurl" description:"URL under which federation users reach this gateway"`
	LndHost         string          `long:"lnd.host" description:"Hostname/IP and port of lnd's gRPC interface"`
	LndTLSCertPath  string          `long:"lnd.tlscertpath" description:"Path to lnd's TLS certificate"`
	LndMacaroonPath string          `long:"lnd.macaroonpath" description:"Path to the lnd macaroon used to pay invoices"`
	MintChannelID   uint64          `long:"mintchannelid" description:"Short channel id announced in route hints to the federation"`
	TimelockDelta   uint32          `long:"timelockdelta" description:"Minimum blocks a contract's timelock must leave before it is paid"`
	FeeBaseMsat     uint32          `long:"fees.base" description:"Base routing fee in millisatoshi"`
	FeeProportional uint32          `long:"fees.proportional" description:"Proportional routing fee in millionths"`
	RootSecret      cfgutil.HexFlag `long:"rootsecret" default-mask:"-" description:"Hex encoded secret the gateway keys are derived from"`
	RetryDelay      time.Duration   `long:"retrydelay" description:"Delay before a failed payment step is retried"`

	activeNet *netparams.Params
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in fedwalletd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile:    defaultConfigFile,
		AppDataDir:    defaultAppDataDir,
		LogDir:        defaultLogDir,
		DebugLevel:    defaultLogLevel,
		Network:       defaultNetwork,
		FinalityDelay: defaultFinalityDelay,
		SyncInterval:  defaultSyncInterval,
		TimelockDelta: defaultTimelockDelta,
		FeeBaseMsat:   defaultFeeBaseMsat,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := cfgutil.CleanAndExpandPath(preCfg.ConfigFile)
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintf(os.Stderr, "Use %s -h to show usage\n", appName)
		return nil, nil, err
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = filepath.Join(
		cfgutil.CleanAndExpandPath(cfg.LogDir), cfg.activeNet.Name,
	)

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	setLogLevels(defaultLogLevel)

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %w", err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

// validate checks option values and fills in those derived from others.
// It does not touch logging.
func (cfg *config) validate() error {
	var err error
	cfg.activeNet, err = netparams.ByName(cfg.Network)
	if err != nil {
		return fmt.Errorf("loadConfig: %w", err)
	}

	cfg.AppDataDir = cfgutil.CleanAndExpandPath(cfg.AppDataDir)

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = "localhost"
	}
	cfg.RPCConnect, err = cfgutil.NormalizeAddress(
		cfg.RPCConnect, cfg.activeNet.RPCClientPort,
	)
	if err != nil {
		return fmt.Errorf("invalid rpcconnect network address: %w", err)
	}

	if !cfg.DisableClientTLS {
		if cfg.CAFile == "" {
			cfg.CAFile = btcdDefaultCAFile
		}
		cfg.CAFile = cfgutil.CleanAndExpandPath(cfg.CAFile)
	}

	if cfg.Descriptor == "" {
		return errors.New("the federation descriptor must be set " +
			"with --descriptor")
	}
	if cfg.SigningKey == "" {
		return errors.New("the member signing key must be set with " +
			"--signingkey")
	}
	if cfg.FinalityDelay < minFinalityDelay {
		return fmt.Errorf("finalitydelay must be at least %d",
			minFinalityDelay)
	}
	if cfg.SyncInterval <= 0 {
		return errors.New("syncinterval must be positive")
	}

	if !cfg.Gateway {
		return nil
	}

	if cfg.FederationAPI == "" {
		return errors.New("the gateway needs --federationapi")
	}
	if cfg.AnnounceURL == "" {
		return errors.New("the gateway needs --announceurl")
	}
	if cfg.LndHost == "" {
		return errors.New("the gateway needs --lnd.host")
	}
	cfg.LndHost, err = cfgutil.NormalizeAddress(cfg.LndHost, defaultLndPort)
	if err != nil {
		return fmt.Errorf("invalid lnd.host network address: %w", err)
	}
	cfg.LndTLSCertPath = cfgutil.CleanAndExpandPath(cfg.LndTLSCertPath)
	cfg.LndMacaroonPath = cfgutil.CleanAndExpandPath(cfg.LndMacaroonPath)
	if len(cfg.RootSecret) == 0 {
		return errors.New("the gateway needs --rootsecret")
	}

	return nil
}

// netDir returns the directory holding the state for the active network.
func (cfg *config) netDir() string {
	return filepath.Join(cfg.AppDataDir, cfg.activeNet.Name)
}
