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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		kind     ParserKind
		wantName string
		wantErr  bool
	}{
		{"mft", ParserMFT, "MFTECmd", false},
		{"lnk", ParserLNK, "LECmd", false},
		{"recyclebin", ParserRecycleBin, "RBCmd", false},
		{"shimcache", ParserShimCache, "AppCompatCacheParser", false},
		{"unknown", ParserKind("prefetch"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Lookup(tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownParser))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, spec.Name)
		})
	}
}

func TestLookupReturnsCopies(t *testing.T) {
	spec, err := Lookup(ParserMFT)
	require.NoError(t, err)

	spec.Name = "changed"
	spec.Defaults[OptOutputFormat] = "body"
	spec.Formats["csv"] = OutputFormat{Flag: "--x", Pattern: "x"}
	spec.Schema[0] = Column{"X", TypeString}

	fresh, err := Lookup(ParserMFT)
	require.NoError(t, err)
	assert.Equal(t, "MFTECmd", fresh.Name)
	assert.Equal(t, "csv", fresh.Defaults[OptOutputFormat])
	assert.Equal(t, "--csv", fresh.Formats["csv"].Flag)
	assert.Equal(t, "EntryNumber", fresh.Schema[0].Header)
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.Equal(t, []ParserKind{ParserLNK, ParserMFT, ParserRecycleBin, ParserShimCache}, kinds)
}

func TestInvocationDefaults(t *testing.T) {
	spec, err := Lookup(ParserMFT)
	require.NoError(t, err)

	inv, err := spec.Invocation("/scratch/input/$MFT", "/scratch/out", "/scratch", nil, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/dotnet", inv.Path)
	assert.Equal(t, []string{
		"/opt/MFTECmd_built_from_source/MFTECmd.dll",
		"-f", "/scratch/input/$MFT",
		"--csv", "/scratch/out",
	}, inv.Args)
	assert.Equal(t, "csv", inv.OutputFormat)
	assert.Equal(t, "*_MFTECmd_*_Output.csv", inv.OutputPattern)
	assert.Equal(t, "/scratch", inv.Dir)
	assert.Equal(t, time.Minute, inv.Timeout)
}

func TestInvocationBodyfile(t *testing.T) {
	spec, err := Lookup(ParserMFT)
	require.NoError(t, err)

	options := map[string]string{
		OptOutputFormat: "body",
		OptDriveLetter:  "d:",
		OptBodyfile:     "nested/custom.body",
		OptArguments:    "--foo bar",
	}
	inv, err := spec.Invocation("/s/in/$MFT", "/s/out", "/s", options, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "body", inv.OutputFormat)
	assert.Equal(t, "custom.body", inv.OutputPattern)
	assert.Equal(t, []string{
		"/opt/MFTECmd_built_from_source/MFTECmd.dll",
		"-f", "/s/in/$MFT",
		"--body", "/s/out",
		"--foo", "bar",
		"--bdl", "D",
		"--bodyf", "custom.body",
	}, inv.Args)
}

func TestInvocationBodyfileExplicitFlags(t *testing.T) {
	spec, err := Lookup(ParserMFT)
	require.NoError(t, err)

	options := map[string]string{
		OptOutputFormat: "body",
		OptArguments:    "--bdl X --bodyf mine.body",
	}
	inv, err := spec.Invocation("/s/in/$MFT", "/s/out", "/s", options, time.Minute)
	require.NoError(t, err)

	// Explicit flags win; they are not duplicated.
	assert.Equal(t, 1, count(inv.Args, "--bdl"))
	assert.Equal(t, 1, count(inv.Args, "--bodyf"))
}

func TestInvocationInvalidFormatFallsBack(t *testing.T) {
	spec, err := Lookup(ParserMFT)
	require.NoError(t, err)

	inv, err := spec.Invocation("/s/in/$MFT", "/s/out", "/s", map[string]string{OptOutputFormat: "invalid"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "csv", inv.OutputFormat)
	assert.Equal(t, "*_MFTECmd_*_Output.csv", inv.OutputPattern)
}

func TestSanitizeDriveLetter(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"d:", "D"},
		{"e:\\", "E"},
		{" f ", "F"},
		{"", "C"},
		{"7", "C"},
		{":\\/", "C"},
		{"c", "C"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeDriveLetter(tt.raw))
		})
	}
}

func count(args []string, flag string) int {
	n := 0
	for _, arg := range args {
		if arg == flag {
			n++
		}
	}
	return n
}
