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

import "fmt"

// String renders the array config for startup logging, listing disk
// roles and names but never the full host paths of content files (those
// can leak mount layout into shared logs).
func (a ArrayConfig) String() string {
	s := fmt.Sprintf("blocksize=%dB hash=%s disks=%d", a.BlockSize, a.Hash, len(a.Disks))
	parityCount := 0
	for _, d := range a.Disks {
		if d.Role == DiskRoleParity {
			parityCount++
		}
	}
	return fmt.Sprintf("%s parity=%d content-copies=%d", s, parityCount, len(a.ContentFile))
}
