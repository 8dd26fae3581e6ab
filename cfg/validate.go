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

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidArrayConfig(a *ArrayConfig) error {
	if len(a.Disks) == 0 {
		return fmt.Errorf("array must declare at least one disk")
	}
	seen := make(map[string]bool, len(a.Disks))
	sawParity := false
	for _, d := range a.Disks {
		if d.Name == "" || d.Path == "" {
			return fmt.Errorf("disk entries require both a name and a path")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate disk name %q", d.Name)
		}
		seen[d.Name] = true
		if d.Role == DiskRoleParity {
			sawParity = true
		}
	}
	if !sawParity {
		return fmt.Errorf("array must declare at least one parity disk")
	}
	if len(a.ContentFile) == 0 {
		return fmt.Errorf("array must declare at least one content file")
	}
	if a.BlockSize <= 0 {
		return fmt.Errorf("blocksize must be positive")
	}
	return nil
}

func isValidScrubConfig(s *ScrubConfig) error {
	if s.Percentage < 0 || s.Percentage > 100 {
		return fmt.Errorf("scrub percentage must be between 0 and 100")
	}
	if s.OlderThanDays < 0 {
		return fmt.Errorf("scrub older-than-days cannot be negative")
	}
	return nil
}

func isValidSyncConfig(s *SyncConfig) error {
	if s.AutosaveIntervalMb < 0 {
		return fmt.Errorf("autosave-interval-mb cannot be negative")
	}
	if s.IOErrorLimit < 0 {
		return fmt.Errorf("io-error-limit cannot be negative")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidArrayConfig(&config.Array); err != nil {
		return fmt.Errorf("error parsing array config: %w", err)
	}
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if err := isValidScrubConfig(&config.Scrub); err != nil {
		return fmt.Errorf("error parsing scrub config: %w", err)
	}
	if err := isValidSyncConfig(&config.Sync); err != nil {
		return fmt.Errorf("error parsing sync config: %w", err)
	}
	return nil
}
