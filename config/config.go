// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/argentumnet/argentumd/chaincfg"
	"github.com/argentumnet/argentumd/util/chainhash"
)

const (
	defaultLogFilename      = "argentumd.log"
	defaultNotifyLimitHours = 24
	defaultMempoolCapacity  = 2000
)

var (
	// defaultHomeDir is the default data directory for the node.
	defaultHomeDir = btcutil.AppDataDir("argentumd", false)
)

// Config defines the configuration options for the node library. All
// variation flows through this object; there are no implicit globals.
type Config struct {
	DataDir            string   `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir             string   `long:"logdir" description:"Directory to log output"`
	TestNet            bool     `long:"testnet" description:"Use the test network"`
	AddCheckpoints     []string `long:"addcheckpoint" description:"Add a custom checkpoint. Format: '<height>:<hash>'"`
	DisableCheckpoints bool     `long:"nocheckpoints" description:"Disable built-in checkpoints"`
	NotifyLimitHours   uint32   `long:"notifylimithours" description:"Hours without a block before the chain is considered stale"`
	MempoolCapacity    int      `long:"mempoolcapacity" description:"Fixed number of entries the transaction pool holds"`
	DebugLevel         string   `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	// ActiveParams is resolved from the network selection after parsing.
	ActiveParams *chaincfg.Params
}

// DefaultConfig returns a config initialized with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir:          defaultHomeDir,
		LogDir:           filepath.Join(defaultHomeDir, "logs"),
		NotifyLimitHours: defaultNotifyLimitHours,
		MempoolCapacity:  defaultMempoolCapacity,
		DebugLevel:       "info",
	}
}

// LoadConfig initializes and parses the config using command line options.
func LoadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve finalizes derived settings: network parameters, checkpoint
// overrides and path normalization.
func (cfg *Config) resolve() error {
	params := chaincfg.MainNetParams
	if cfg.TestNet {
		params = chaincfg.TestNetParams
	}

	if cfg.DisableCheckpoints {
		params.Checkpoints = nil
	}

	if len(cfg.AddCheckpoints) > 0 {
		added, err := parseCheckpoints(cfg.AddCheckpoints)
		if err != nil {
			return err
		}
		params.Checkpoints = mergeCheckpoints(params.Checkpoints, added)
	}

	cfg.ActiveParams = &params
	cfg.DataDir = filepath.Join(cfg.DataDir, params.Name)
	cfg.LogDir = filepath.Join(cfg.LogDir, params.Name)
	return nil
}

// LogFile returns the path of the rotating log file.
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.LogDir, defaultLogFilename)
}

// StaleSeconds returns the notify limit converted to seconds.
func (cfg *Config) StaleSeconds() uint32 {
	return cfg.NotifyLimitHours * 3600
}

// newCheckpointFromStr parses checkpoints in the '<height>:<hash>' format.
func newCheckpointFromStr(checkpoint string) (chaincfg.Checkpoint, error) {
	parts := strings.Split(checkpoint, ":")
	if len(parts) != 2 {
		return chaincfg.Checkpoint{}, errors.Errorf("unable to parse "+
			"checkpoint %q -- use the syntax <height>:<hash>", checkpoint)
	}

	height, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return chaincfg.Checkpoint{}, errors.Errorf("unable to parse "+
			"checkpoint %q due to malformed height", checkpoint)
	}

	if len(parts[1]) == 0 {
		return chaincfg.Checkpoint{}, errors.Errorf("unable to parse "+
			"checkpoint %q due to missing hash", checkpoint)
	}
	hash, err := chainhash.NewHashFromStr(parts[1])
	if err != nil {
		return chaincfg.Checkpoint{}, errors.Errorf("unable to parse "+
			"checkpoint %q due to malformed hash", checkpoint)
	}

	return chaincfg.Checkpoint{
		Height: height,
		Hash:   hash,
	}, nil
}

// parseCheckpoints checks the checkpoint strings for valid syntax
// ('<height>:<hash>') and parses them to chaincfg.Checkpoint instances.
func parseCheckpoints(checkpointStrings []string) ([]chaincfg.Checkpoint, error) {
	if len(checkpointStrings) == 0 {
		return nil, nil
	}
	checkpoints := make([]chaincfg.Checkpoint, len(checkpointStrings))
	for i, cpString := range checkpointStrings {
		checkpoint, err := newCheckpointFromStr(cpString)
		if err != nil {
			return nil, err
		}
		checkpoints[i] = checkpoint
	}
	return checkpoints, nil
}

// mergeCheckpoints returns two slices of checkpoints merged into one slice
// such that the checkpoints are sorted by height. In the case the
// additional checkpoints contain a checkpoint with the same height as a
// checkpoint in the default checkpoints, the additional checkpoint takes
// precedence.
func mergeCheckpoints(defaultCheckpoints, additional []chaincfg.Checkpoint) []chaincfg.Checkpoint {
	// Create a map of the additional checkpoints to remove duplicates
	// while leaving the most recently-specified checkpoint.
	extra := make(map[uint64]chaincfg.Checkpoint)
	for _, checkpoint := range additional {
		extra[checkpoint.Height] = checkpoint
	}

	// Add all default checkpoints that do not have an override in the
	// additional checkpoints.
	checkpoints := make([]chaincfg.Checkpoint, 0, len(defaultCheckpoints)+len(extra))
	for _, checkpoint := range defaultCheckpoints {
		if _, exists := extra[checkpoint.Height]; !exists {
			checkpoints = append(checkpoints, checkpoint)
		}
	}

	// Append the additional checkpoints and sort by height.
	for _, checkpoint := range extra {
		checkpoints = append(checkpoints, checkpoint)
	}
	sortCheckpoints(checkpoints)
	return checkpoints
}

// sortCheckpoints sorts the checkpoints by height, ascending.
func sortCheckpoints(checkpoints []chaincfg.Checkpoint) {
	for i := 1; i < len(checkpoints); i++ {
		for j := i; j > 0 && checkpoints[j].Height < checkpoints[j-1].Height; j-- {
			checkpoints[j], checkpoints[j-1] = checkpoints[j-1], checkpoints[j]
		}
	}
}

// Describe returns a one-line summary of the active configuration for
// startup logging.
func (cfg *Config) Describe() string {
	return fmt.Sprintf("network=%s datadir=%s mempool=%d stale=%dh",
		cfg.ActiveParams.Name, cfg.DataDir, cfg.MempoolCapacity,
		cfg.NotifyLimitHours)
}
