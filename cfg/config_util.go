// Copyright 2024 Google LLC
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

// DataDisks returns the configured data-disk entries, in declaration order.
func (a ArrayConfig) DataDisks() []DiskEntry {
	var out []DiskEntry
	for _, d := range a.Disks {
		if d.Role == DiskRoleData {
			out = append(out, d)
		}
	}
	return out
}

// ParityDisks returns the configured parity-disk entries, in declaration
// order; its length is the array's parity level.
func (a ArrayConfig) ParityDisks() []DiskEntry {
	var out []DiskEntry
	for _, d := range a.Disks {
		if d.Role == DiskRoleParity {
			out = append(out, d)
		}
	}
	return out
}
