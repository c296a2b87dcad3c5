// Copyright (c) 2025 Julian Hill
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Julian Hill

// Package eztools runs Eric Zimmerman's forensic command line parsers
// (MFTECmd, LECmd, RBCmd, AppCompatCacheParser) against staged disk-image
// artifacts and converts their output into normalized evidence records.
package eztools

import (
	"fmt"
	"time"
)

// ParserKind selects which external tool parses the artifact.
type ParserKind string

// Supported parser kinds.
const (
	ParserMFT        ParserKind = "mft"
	ParserLNK        ParserKind = "lnk"
	ParserRecycleBin ParserKind = "recyclebin"
	ParserShimCache  ParserKind = "shimcache"
)

// TaskRequest is a single extraction request as received from the queue
// boundary. It is immutable once received.
type TaskRequest struct {
	TaskID      string            `json:"task_id"`
	ArtifactRef string            `json:"artifact_reference"`
	Parser      ParserKind        `json:"parser_kind"`
	Checksum    string            `json:"checksum,omitempty"` // hex SHA-256, optional
	Options     map[string]string `json:"options,omitempty"`
}

// Status is the terminal state of a task.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// NormalizedRecord is a single output row of an external tool. Rows that
// match the declared schema carry typed Fields in Columns order. Rows that
// do not are retained verbatim in Raw so no evidence is dropped.
type NormalizedRecord struct {
	Columns []string               `json:"columns,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	Raw     string                 `json:"raw,omitempty"`
	Line    int                    `json:"line"`
}

// IsRaw reports whether the record is an unparsed fallback row.
func (r *NormalizedRecord) IsRaw() bool { return r.Fields == nil }

// Field returns a typed field value or nil.
func (r *NormalizedRecord) Field(name string) interface{} {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// String returns the field as a string, empty if absent or differently typed.
func (r *NormalizedRecord) String(name string) string {
	if s, ok := r.Field(name).(string); ok {
		return s
	}
	return ""
}

// Provenance records how a result was produced, for audit reproducibility.
type Provenance struct {
	ToolName    string        `json:"tool_name"`
	ToolVersion string        `json:"tool_version"`
	CommandLine string        `json:"command_line"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	ExitCode    int           `json:"exit_code"`
	TimedOut    bool          `json:"timed_out"`
}

// TaskResult is the terminal outcome of a task. It is handed to the queue
// boundary exactly once and never mutated afterwards.
type TaskResult struct {
	TaskID     string             `json:"task_id"`
	Status     Status             `json:"status"`
	Records    []NormalizedRecord `json:"records,omitempty"`
	RecordsRef string             `json:"records_reference,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Provenance Provenance         `json:"provenance"`
	Error      string             `json:"error,omitempty"`
}

// ToolInvocation is the fully rendered command for one task. It is derived
// deterministically from the registry entry and the request options and
// never mutated after construction.
type ToolInvocation struct {
	Path          string
	Args          []string
	Dir           string
	Timeout       time.Duration
	OutputPattern string
	OutputFormat  string
}

// CommandLine renders the literal command for provenance.
func (inv *ToolInvocation) CommandLine() string {
	line := inv.Path
	for _, arg := range inv.Args {
		line += " " + arg
	}
	return line
}

// ProcessOutcome is the observed behavior of one tool invocation. A non-zero
// exit code is an ordinary value here, not an error.
type ProcessOutcome struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	WallTime        time.Duration
	TimedOut        bool
}

func (o *ProcessOutcome) String() string {
	if o.TimedOut {
		return fmt.Sprintf("timed out after %s", o.WallTime)
	}
	return fmt.Sprintf("exit %d after %s", o.ExitCode, o.WallTime)
}
