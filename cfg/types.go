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

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Octal is the datatype for file-mode style values that accept a base-8
// value.
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text), 8, 32)
	if err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

func (o Octal) String() string {
	return strconv.FormatInt(int64(o), 8)
}

// HashAlgorithm names the content-hash function used for block digests.
type HashAlgorithm string

const (
	HashMurmur3 HashAlgorithm = "murmur3"
	HashMetro   HashAlgorithm = "metro"
)

func (h *HashAlgorithm) UnmarshalText(text []byte) error {
	v := HashAlgorithm(strings.ToLower(string(text)))
	if v != HashMurmur3 && v != HashMetro {
		return fmt.Errorf("invalid hash value: %s. It can only be one of [murmur3, metro]", text)
	}
	*h = v
	return nil
}

// LogSeverity represents the logging severity and can accept the following
// values: "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF".
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

// severityRanking maps each level to an integer for validation and
// comparison; lower ranks are noisier.
var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank. Returns -1
// if the severity is unknown.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// ResolvedPath is a filesystem path, stored exactly as written in the
// config; it is not made absolute and symlinks are not resolved.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		*p = ""
		return nil
	}
	*p = ResolvedPath(s)
	return nil
}

// DiskRole distinguishes the array's two kinds of member: the disks that
// hold user data and the disks that hold parity for them.
type DiskRole string

const (
	DiskRoleData   DiskRole = "data"
	DiskRoleParity DiskRole = "parity"
)

func (r *DiskRole) UnmarshalText(text []byte) error {
	v := DiskRole(strings.ToLower(string(text)))
	if !slices.Contains([]DiskRole{DiskRoleData, DiskRoleParity}, v) {
		return fmt.Errorf("invalid disk role: %s. It can only be one of [data, parity]", text)
	}
	*r = v
	return nil
}
