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
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
)

// Recognized option keys in TaskRequest.Options.
const (
	OptOutputFormat = "output_format"
	OptDriveLetter  = "body_drive_letter"
	OptBodyfile     = "bodyfile_name"
	OptArguments    = "arguments"
	OptTimesketch   = "timesketch_ready_csv"
)

// ColumnType declares how a CSV column is typed during normalization.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt
	TypeBool
	TypeTime
)

// Column declares one expected output column by its literal CSV header.
type Column struct {
	Header string
	Type   ColumnType
}

// OutputFormat maps an output format name to its tool flag and the glob
// pattern of the file the tool creates inside the output directory.
type OutputFormat struct {
	Flag    string
	Pattern string
}

// ToolSpec is the invocation template for one external parser. Entries are
// initialized once at startup and never mutated; Lookup hands out copies.
type ToolSpec struct {
	Name        string
	Executable  string
	LeadingArgs []string
	InputFlag   string
	Formats     map[string]OutputFormat
	Defaults    map[string]string
	Schema      []Column
}

// The tools are built from source into the worker container; the dlls run
// under the system dotnet runtime.
const dotnetPath = "/usr/bin/dotnet"

var registry = map[ParserKind]*ToolSpec{
	ParserMFT: {
		Name:        "MFTECmd",
		Executable:  dotnetPath,
		LeadingArgs: []string{"/opt/MFTECmd_built_from_source/MFTECmd.dll"},
		InputFlag:   "-f",
		Formats: map[string]OutputFormat{
			"csv":  {Flag: "--csv", Pattern: "*_MFTECmd_*_Output.csv"},
			"json": {Flag: "--json", Pattern: "*_MFTECmd_Output.json"},
			"body": {Flag: "--body", Pattern: "output.body"},
		},
		Defaults: map[string]string{
			OptOutputFormat: "csv",
			OptDriveLetter:  "c",
			OptBodyfile:     "output.body",
		},
		Schema: []Column{
			{"EntryNumber", TypeInt}, {"SequenceNumber", TypeInt},
			{"InUse", TypeBool}, {"ParentPath", TypeString},
			{"FileName", TypeString}, {"Extension", TypeString},
			{"FileSize", TypeInt}, {"IsDirectory", TypeBool},
			{"HasAds", TypeBool}, {"IsAds", TypeBool},
			{"Created0x10", TypeTime}, {"Created0x30", TypeTime},
			{"LastModified0x10", TypeTime}, {"LastModified0x30", TypeTime},
			{"LastRecordChange0x10", TypeTime}, {"LastRecordChange0x30", TypeTime},
			{"LastAccess0x10", TypeTime}, {"LastAccess0x30", TypeTime},
			{"UpdateSequenceNumber", TypeInt}, {"ZoneIdContents", TypeString},
		},
	},
	ParserLNK: {
		Name:        "LECmd",
		Executable:  dotnetPath,
		LeadingArgs: []string{"/opt/LECmd_built_from_source/LECmd.dll"},
		InputFlag:   "-f",
		Formats: map[string]OutputFormat{
			"csv":  {Flag: "--csv", Pattern: "*_LECmd_Output.csv"},
			"json": {Flag: "--json", Pattern: "*_LECmd_Output.json"},
		},
		Defaults: map[string]string{OptOutputFormat: "csv"},
		Schema: []Column{
			{"SourceFile", TypeString}, {"SourceCreated", TypeTime},
			{"SourceModified", TypeTime}, {"SourceAccessed", TypeTime},
			{"TargetCreated", TypeTime}, {"TargetModified", TypeTime},
			{"TargetAccessed", TypeTime}, {"FileSize", TypeInt},
			{"RelativePath", TypeString}, {"WorkingDirectory", TypeString},
			{"FileAttributes", TypeString}, {"HeaderFlags", TypeString},
			{"DriveType", TypeString}, {"VolumeSerialNumber", TypeString},
			{"VolumeLabel", TypeString}, {"LocalPath", TypeString},
			{"CommonPath", TypeString}, {"TargetIDAbsolutePath", TypeString},
			{"TargetMFTEntryNumber", TypeString}, {"TargetMFTSequenceNumber", TypeString},
			{"MachineID", TypeString}, {"MachineMACAddress", TypeString},
			{"TrackerCreatedOn", TypeTime},
		},
	},
	ParserRecycleBin: {
		Name:        "RBCmd",
		Executable:  dotnetPath,
		LeadingArgs: []string{"/opt/RBCmd_built_from_source/RBCmd.dll"},
		InputFlag:   "-f",
		Formats: map[string]OutputFormat{
			"csv": {Flag: "--csv", Pattern: "*_RBCmd_Output.csv"},
		},
		Defaults: map[string]string{OptOutputFormat: "csv"},
		Schema: []Column{
			{"SourceName", TypeString}, {"FileType", TypeString},
			{"FileName", TypeString}, {"FileSize", TypeInt},
			{"DeletedOn", TypeTime},
		},
	},
	ParserShimCache: {
		Name:        "AppCompatCacheParser",
		Executable:  dotnetPath,
		LeadingArgs: []string{"/opt/AppCompatCacheParser_built_from_source/AppCompatCacheParser.dll"},
		InputFlag:   "-f",
		Formats: map[string]OutputFormat{
			"csv": {Flag: "--csv", Pattern: "*AppCompatCache*.csv"},
		},
		Defaults: map[string]string{OptOutputFormat: "csv"},
		Schema: []Column{
			{"ControlSet", TypeInt}, {"CacheEntryPosition", TypeInt},
			{"Path", TypeString}, {"LastModifiedTimeUTC", TypeTime},
			{"Executed", TypeString},
		},
	},
}

// Lookup returns the tool spec for a parser kind. The returned spec is a
// copy; registry entries themselves are never handed out.
func Lookup(kind ParserKind) (*ToolSpec, error) {
	spec, ok := registry[kind]
	if !ok {
		return nil, errors.Wrap(ErrUnknownParser, string(kind))
	}
	return spec.clone(), nil
}

// Kinds lists all registered parser kinds, sorted.
func Kinds() []ParserKind {
	kinds := make([]ParserKind, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (s *ToolSpec) clone() *ToolSpec {
	c := *s
	c.LeadingArgs = append([]string(nil), s.LeadingArgs...)
	c.Schema = append([]Column(nil), s.Schema...)
	c.Formats = make(map[string]OutputFormat, len(s.Formats))
	for name, format := range s.Formats {
		c.Formats[name] = format
	}
	c.Defaults = make(map[string]string, len(s.Defaults))
	for key, value := range s.Defaults {
		c.Defaults[key] = value
	}
	return &c
}

// Invocation renders the deterministic command line for one task. Request
// options are merged over the spec defaults; unknown output formats fall
// back to the default format instead of failing the task.
func (s *ToolSpec) Invocation(inputPath, outputDir, workDir string, options map[string]string, timeout time.Duration) (*ToolInvocation, error) {
	opts := make(map[string]string, len(options))
	for key, value := range options {
		opts[key] = value
	}
	if err := mergo.Merge(&opts, s.Defaults); err != nil {
		return nil, errors.Wrap(err, "could not merge default options")
	}

	format := opts[OptOutputFormat]
	target, ok := s.Formats[format]
	if !ok {
		format = s.Defaults[OptOutputFormat]
		target = s.Formats[format]
	}

	args := append([]string(nil), s.LeadingArgs...)
	args = append(args, s.InputFlag, inputPath)

	extra := strings.Fields(opts[OptArguments])

	if format == "body" {
		driveLetter := sanitizeDriveLetter(opts[OptDriveLetter])
		bodyfile := path.Base(filepath.ToSlash(strings.TrimSpace(opts[OptBodyfile])))
		if bodyfile == "" || bodyfile == "." {
			bodyfile = "output.body"
		}
		if !contains(extra, "--bdl") {
			extra = append(extra, "--bdl", driveLetter)
		}
		if !contains(extra, "--bodyf") {
			extra = append(extra, "--bodyf", bodyfile)
		}
		target.Pattern = bodyfile
	}

	args = append(args, target.Flag, outputDir)
	args = append(args, extra...)

	return &ToolInvocation{
		Path:          s.Executable,
		Args:          args,
		Dir:           workDir,
		Timeout:       timeout,
		OutputPattern: target.Pattern,
		OutputFormat:  format,
	}, nil
}

// sanitizeDriveLetter reduces free-form input like "d:" or "e:\" to a single
// upper-case letter, defaulting to C.
func sanitizeDriveLetter(raw string) string {
	letter := strings.TrimSpace(raw)
	letter = strings.TrimRight(letter, ":\\/")
	if letter == "" {
		return "C"
	}
	r := unicode.ToUpper(rune(letter[0]))
	if r < 'A' || r > 'Z' {
		return "C"
	}
	return fmt.Sprintf("%c", r)
}

func contains(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}
