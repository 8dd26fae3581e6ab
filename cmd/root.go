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

package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/snapraid-go/snapraid/cfg"
	"github.com/snapraid-go/snapraid/internal/logger"
	"github.com/snapraid-go/snapraid/internal/snaperr"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	Config        cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "snapraid [command]",
	Short: "Snapshot parity protection for independently-mounted data disks",
	Long: `snapraid computes parity across a set of independently-mounted data
disks and a durable content manifest, so data lost from any one disk (up
to the configured parity level) can be reconstructed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to the array configuration file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	if bindErr == nil {
		bindErr = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	}
	rootCmd.AddCommand(syncCmd, scrubCmd, fixCmd, diffCmd, statusCmd, checkCmd,
		listCmd, dupCmd, poolCmd, touchCmd, upCmd, downCmd, smartCmd, devicesCmd, locateCmd)
}

// initConfig reads the array configuration file named by -c, if any,
// merges it into viper on top of defaults, then decodes the merged
// settings into Config via the same mapstructure decode hooks the file
// format itself uses. Errors are latched rather than returned, since
// cobra.OnInitialize callbacks cannot fail directly; each subcommand's
// RunE checks them before doing any work.
func initConfig() {
	if cfgFile != "" {
		body, err := os.ReadFile(cfgFile)
		if err != nil {
			configFileErr = fmt.Errorf("reading config file: %w", err)
			return
		}
		var raw map[string]interface{}
		if err := yaml.Unmarshal(body, &raw); err != nil {
			configFileErr = fmt.Errorf("parsing config file: %w", err)
			return
		}
		if err := viper.MergeConfigMap(raw); err != nil {
			configFileErr = fmt.Errorf("merging config file: %w", err)
			return
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: cfg.DecodeHook(),
		Result:     &Config,
		TagName:    "yaml",
	})
	if err != nil {
		unmarshalErr = err
		return
	}
	if err := decoder.Decode(viper.AllSettings()); err != nil {
		unmarshalErr = fmt.Errorf("decoding config: %w", err)
		return
	}
	if viper.GetBool("verbose") {
		Config.Logging.Severity = cfg.TraceLogSeverity
	}
	if err := cfg.Rationalize(&Config); err != nil {
		unmarshalErr = err
		return
	}
	if err := logger.InitLogFile(Config.Logging); err != nil {
		unmarshalErr = err
	}
}

// checkConfig surfaces any error latched during initConfig; every
// subcommand's RunE calls this before touching the array.
func checkConfig() error {
	if bindErr != nil {
		return bindErr
	}
	if configFileErr != nil {
		return &snaperr.ConfigError{Msg: configFileErr.Error()}
	}
	if unmarshalErr != nil {
		return &snaperr.ConfigError{Msg: unmarshalErr.Error()}
	}
	if err := cfg.ValidateConfig(&Config); err != nil {
		return &snaperr.ConfigError{Msg: err.Error()}
	}
	return nil
}

// Execute runs the selected subcommand and translates its outcome into a
// process exit code via snaperr.Classify, per spec.md §6.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(int(snaperr.Classify(err)))
}
