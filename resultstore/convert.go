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

package resultstore

import (
	"github.com/stoewer/go-strcase"

	eztools "github.com/julianghill/openrelik-worker-eztools"
)

// summary is the flat audit projection of a result; it is converted to a
// lowered map for the meta column.
type summary struct {
	TaskID      string
	Status      string
	ToolName    string
	ToolVersion string
	CommandLine string
	ExitCode    int
	TimedOut    bool
	Records     int
	Warnings    int
}

func summaryOf(result *eztools.TaskResult) summary {
	return summary{
		TaskID:      result.TaskID,
		Status:      string(result.Status),
		ToolName:    result.Provenance.ToolName,
		ToolVersion: result.Provenance.ToolVersion,
		CommandLine: result.Provenance.CommandLine,
		ExitCode:    result.Provenance.ExitCode,
		TimedOut:    result.Provenance.TimedOut,
		Records:     len(result.Records),
		Warnings:    len(result.Warnings),
	}
}

// lower converts map keys to snake_case, recursively.
func lower(value map[string]interface{}) map[string]interface{} {
	lowered := make(map[string]interface{}, len(value))
	for key, element := range value {
		if nested, ok := element.(map[string]interface{}); ok {
			element = lower(nested)
		}
		lowered[strcase.SnakeCase(key)] = element
	}
	return lowered
}
