// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully parsed configuration for one array: the disks and
// parity files it is made of, plus the engine's tunables. It is decoded
// from a snapraid.conf-style file merged with flags and environment, via
// DecodeHook and Rationalize.
type Config struct {
	Array   ArrayConfig   `yaml:"array"`
	Logging LoggingConfig `yaml:"logging"`
	Scrub   ScrubConfig   `yaml:"scrub"`
	Sync    SyncConfig    `yaml:"sync"`
	Debug   DebugConfig   `yaml:"debug"`
}

// DiskEntry is one `disk` or `parity` line of the array configuration.
type DiskEntry struct {
	Name string   `yaml:"name"`
	Path string   `yaml:"path"`
	Role DiskRole `yaml:"role"`
}

// ArrayConfig describes the member disks, parity files, and the content
// manifest's redundancy and hashing parameters.
type ArrayConfig struct {
	Disks       []DiskEntry   `yaml:"disks"`
	ContentFile []ResolvedPath `yaml:"content"`
	BlockSize   int64         `yaml:"blocksize"` // bytes
	Hash        HashAlgorithm `yaml:"hash"`
	Exclude     []string      `yaml:"exclude"`
	Nohidden    bool          `yaml:"nohidden"`
}

// LoggingConfig controls structured log output and optional file rotation.
type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity"`
	Format    string                 `yaml:"format"` // "text" or "json"
	FilePath  ResolvedPath           `yaml:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig mirrors lumberjack.Logger's knobs.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// ScrubConfig holds scrub's default plan-selection parameters.
type ScrubConfig struct {
	Percentage    int `yaml:"percentage"`
	OlderThanDays int `yaml:"older-than-days"`
}

// SyncConfig holds sync's autosave and error-tolerance parameters.
type SyncConfig struct {
	AutosaveIntervalMb int64 `yaml:"autosave-interval-mb"`
	IOErrorLimit       int   `yaml:"io-error-limit"`
	PreHash            bool  `yaml:"prehash"`
}

// DebugConfig enables extra internal checks, at a cost to performance.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`
}

// BindFlags registers every flag this config reads, binding each to its
// viper key so a later viper.Unmarshal(&Config{}) picks up flag overrides
// on top of the config file and defaults.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("log-file", "l", "", "Path to the log file.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log output format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.BoolP("verbose", "v", false, "Enable verbose (TRACE) logging.")

	flagSet.IntP("percentage", "p", DefaultScrubPercentage, "Percentage of the array to scrub.")
	if err = viper.BindPFlag("scrub.percentage", flagSet.Lookup("percentage")); err != nil {
		return err
	}

	flagSet.IntP("older-than", "o", DefaultScrubOlderThanDays, "Scrub blocks older than this many days.")
	if err = viper.BindPFlag("scrub.older-than-days", flagSet.Lookup("older-than")); err != nil {
		return err
	}

	flagSet.Int64P("autosave-interval-mb", "", DefaultAutosaveIntervalMB, "Persist the manifest every this many MiB processed.")
	if err = viper.BindPFlag("sync.autosave-interval-mb", flagSet.Lookup("autosave-interval-mb")); err != nil {
		return err
	}

	flagSet.BoolP("prehash", "H", false, "Pre-hash changed blocks before syncing parity.")
	if err = viper.BindPFlag("sync.prehash", flagSet.Lookup("prehash")); err != nil {
		return err
	}

	flagSet.BoolP("exit-on-invariant-violation", "", false, "Exit immediately when an internal invariant is violated.")
	if err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("exit-on-invariant-violation")); err != nil {
		return err
	}

	return nil
}
