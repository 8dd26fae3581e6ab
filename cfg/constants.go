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

const (
	// Logging-level constants.
	TRACE   string = "TRACE"
	DEBUG   string = "DEBUG"
	INFO    string = "INFO"
	WARNING string = "WARNING"
	ERROR   string = "ERROR"
	OFF     string = "OFF"
)

const (
	// DefaultBlockSize is the parity block size in bytes, used when no
	// content file has been read yet.
	DefaultBlockSize int64 = 256 * 1024

	// DefaultIOMax is the per-worker ring depth of the I/O scheduler.
	DefaultIOMax = 4

	// DefaultAutosaveIntervalMB is the default autosave_interval expressed
	// in mebibytes of column data processed.
	DefaultAutosaveIntervalMB int64 = 1024

	// DefaultScrubPercentage is the default fraction of the array scrubbed
	// per run when neither -p nor -o is given.
	DefaultScrubPercentage = 8

	// DefaultScrubOlderThanDays bounds how far scrub will reach back past
	// its percentage quota.
	DefaultScrubOlderThanDays = 10

	// DefaultIOErrorLimit is the number of IOERROR_CONTINUE events sync
	// tolerates before aborting.
	DefaultIOErrorLimit = 100
)
