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

package eztools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/julianghill/openrelik-worker-eztools/artifact"
)

// Assembler packages normalized records and provenance into the terminal
// task result. Already-parsed records are never discarded because of a
// non-zero exit code; partial evidence is still evidence.
type Assembler struct {
	store          artifact.Store
	spillThreshold int
}

// NewAssembler creates an assembler. If store is non-nil, record sets whose
// JSON encoding exceeds spillThreshold bytes are uploaded to the store and
// referenced instead of inlined.
func NewAssembler(store artifact.Store, spillThreshold int) *Assembler {
	return &Assembler{store: store, spillThreshold: spillThreshold}
}

// Assemble builds the task result and decides the final status:
//
//	exit 0,  no timeout, records   -> success
//	exit 0,  no timeout, empty     -> partial (no output produced)
//	nonzero, no timeout, records   -> partial
//	nonzero, no timeout, empty     -> failed
//	any,     timeout,    records   -> partial
//	any,     timeout,    empty     -> failed
func (a *Assembler) Assemble(ctx context.Context, task TaskRequest, spec *ToolSpec, inv *ToolInvocation,
	outcome *ProcessOutcome, records []NormalizedRecord, warnings []string, startedAt time.Time) *TaskResult {

	warnings = append([]string(nil), warnings...)

	if outcome.TimedOut {
		warnings = append(warnings, fmt.Sprintf("tool timed out after %s: %s", inv.Timeout, inv.CommandLine()))
	} else if outcome.ExitCode != 0 {
		warnings = append(warnings, fmt.Sprintf("tool exited with code %d: %s", outcome.ExitCode, tail(outcome.Stderr, 512)))
	}
	if outcome.StdoutTruncated {
		warnings = append(warnings, "stdout capture truncated")
	}
	if outcome.StderrTruncated {
		warnings = append(warnings, "stderr capture truncated")
	}
	if len(records) == 0 && outcome.ExitCode == 0 && !outcome.TimedOut {
		warnings = append(warnings, "no output produced")
	}

	var status Status
	switch {
	case outcome.TimedOut:
		status = StatusPartial
		if len(records) == 0 {
			status = StatusFailed
		}
	case outcome.ExitCode == 0:
		status = StatusSuccess
		if len(records) == 0 {
			status = StatusPartial
		}
	default:
		status = StatusPartial
		if len(records) == 0 {
			status = StatusFailed
		}
	}

	result := &TaskResult{
		TaskID:   task.TaskID,
		Status:   status,
		Records:  records,
		Warnings: warnings,
		Provenance: Provenance{
			ToolName:    spec.Name,
			ToolVersion: sniffVersion(outcome.Stdout),
			CommandLine: inv.CommandLine(),
			StartedAt:   startedAt,
			Duration:    outcome.WallTime,
			ExitCode:    outcome.ExitCode,
			TimedOut:    outcome.TimedOut,
		},
	}

	a.spill(ctx, result)
	return result
}

// spill delegates oversized record sets to the artifact store.
func (a *Assembler) spill(ctx context.Context, result *TaskResult) {
	if a.store == nil || a.spillThreshold <= 0 || len(result.Records) == 0 {
		return
	}
	encoded, err := json.Marshal(result.Records)
	if err != nil || len(encoded) <= a.spillThreshold {
		return
	}
	ref, err := a.store.Put(ctx, result.TaskID+"_records.json", bytes.NewReader(encoded))
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not upload record payload, keeping inline: %v", err))
		return
	}
	result.RecordsRef = ref
	result.Records = nil
}

var versionRe = regexp.MustCompile(`(?i)\bversion\s+v?([0-9][0-9A-Za-z.\-+]*)`)

// sniffVersion extracts the tool version from its console banner. The EZ
// tools print a line like "MFTECmd version 1.2.2.1".
func sniffVersion(stdout string) string {
	if m := versionRe.FindStringSubmatch(stdout); m != nil {
		return m[1]
	}
	return "unknown"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
