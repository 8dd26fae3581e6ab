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

// Rationalize updates the config fields based on the values of other
// fields, after flags/file/env have all been merged and before
// ValidateConfig runs.
func Rationalize(c *Config) error {
	if c.Debug.ExitOnInvariantViolation {
		c.Logging.Severity = TraceLogSeverity
	}

	if c.Array.BlockSize == 0 {
		c.Array.BlockSize = DefaultBlockSize
	}
	if c.Array.Hash == "" {
		c.Array.Hash = HashMurmur3
	}

	if c.Scrub.Percentage == 0 {
		c.Scrub.Percentage = DefaultScrubPercentage
	}
	if c.Scrub.OlderThanDays == 0 {
		c.Scrub.OlderThanDays = DefaultScrubOlderThanDays
	}

	if c.Sync.AutosaveIntervalMb == 0 {
		c.Sync.AutosaveIntervalMb = DefaultAutosaveIntervalMB
	}
	if c.Sync.IOErrorLimit == 0 {
		c.Sync.IOErrorLimit = DefaultIOErrorLimit
	}

	if c.Logging.Severity == "" {
		c.Logging.Severity = InfoLogSeverity
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.LogRotate.MaxFileSizeMb == 0 {
		c.Logging.LogRotate.MaxFileSizeMb = 512
	}
	if c.Logging.LogRotate.BackupFileCount == 0 {
		c.Logging.LogRotate.BackupFileCount = 10
	}

	return nil
}
