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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mftRecord() NormalizedRecord {
	return NormalizedRecord{
		Columns: []string{
			"entry_number", "sequence_number", "parent_path", "file_name",
			"file_size", "created0x10", "last_modified0x10", "created0x30",
			"zone_id_contents",
		},
		Fields: map[string]interface{}{
			"entry_number":      int64(42),
			"sequence_number":   int64(3),
			"parent_path":       `.\Users\bob\Downloads`,
			"file_name":         "payload.exe",
			"file_size":         int64(1337),
			"created0x10":       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			"last_modified0x10": time.Date(2024, 5, 2, 11, 0, 0, 0, time.UTC),
			"created0x30":       time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC),
			"zone_id_contents":  `[ZoneTransfer]\r\nZoneId=3\r\nHostUrl=https://evil.example/payload.exe`,
		},
		Line: 2,
	}
}

func TestTimesketchTimeline(t *testing.T) {
	rows := TimesketchTimeline([]NormalizedRecord{mftRecord()})
	require.Len(t, rows, 3)

	byDesc := map[string]NormalizedRecord{}
	for _, row := range rows {
		byDesc[row.String("timestamp_desc")] = row
	}
	require.Contains(t, byDesc, "MFTECmd $STANDARD_INFORMATION - Created")
	require.Contains(t, byDesc, "MFTECmd $STANDARD_INFORMATION - Modified")
	require.Contains(t, byDesc, "MFTECmd $FILE_NAME - Created")

	created := byDesc["MFTECmd $STANDARD_INFORMATION - Created"]
	assert.Equal(t, "2024-05-01T10:00:00+0000", created.String("datetime"))
	assert.Equal(t, "payload.exe", created.String("filename"))
	assert.Equal(t, `.\Users\bob\Downloads\payload.exe`, created.String("filepath"))
	assert.Equal(t, "42", created.String("entry_number"))
	assert.Equal(t, "3", created.String("zone_id"))
	assert.Equal(t, "https://evil.example/payload.exe", created.String("zone_host_url"))
	assert.Contains(t, created.String("message"), `.\Users\bob\Downloads\payload.exe`)
	assert.Contains(t, created.String("message"), "Size: 1337")
	assert.Contains(t, created.String("message"), "Entry: 42:3")
	assert.Contains(t, created.String("message"), "ZoneIdentifier: 3")
	assert.Equal(t, 2, created.Line)
	assert.Equal(t, timesketchColumns, created.Columns)
}

func TestTimesketchTimelineSkipsRawAndTimestampless(t *testing.T) {
	records := []NormalizedRecord{
		{Raw: "unparseable line", Line: 3},
		{Columns: []string{"file_name"}, Fields: map[string]interface{}{"file_name": "x"}, Line: 4},
	}
	assert.Empty(t, TimesketchTimeline(records))
}

func TestTimesketchTimelineSkipsEmptyTimestamps(t *testing.T) {
	record := NormalizedRecord{
		Columns: []string{"file_name", "created0x10", "last_access0x10"},
		Fields: map[string]interface{}{
			"file_name":       "x.txt",
			"created0x10":     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			"last_access0x10": "",
		},
		Line: 2,
	}
	rows := TimesketchTimeline([]NormalizedRecord{record})
	require.Len(t, rows, 1)
	assert.Equal(t, "MFTECmd $STANDARD_INFORMATION - Created", rows[0].String("timestamp_desc"))
}

func TestDescribeMFTTimestamp(t *testing.T) {
	tests := []struct {
		column string
		want   string
	}{
		{"created0x10", "MFTECmd $STANDARD_INFORMATION - Created"},
		{"created0x30", "MFTECmd $FILE_NAME - Created"},
		{"last_modified0x10", "MFTECmd $STANDARD_INFORMATION - Modified"},
		{"last_access0x30", "MFTECmd $FILE_NAME - Accessed"},
		{"last_record_change0x10", "MFTECmd $STANDARD_INFORMATION - last_record_change0x10"},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, describeMFTTimestamp(tt.column))
		})
	}
}

func TestParseZoneIdentifier(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			"literal escapes",
			`[ZoneTransfer]\r\nZoneId=3\r\nReferrerUrl=https://a.example/`,
			map[string]string{"zoneid": "3", "referrerurl": "https://a.example/"},
		},
		{
			"real newlines",
			"[ZoneTransfer]\r\nZoneId=2\r\nHostUrl=https://b.example/x",
			map[string]string{"zoneid": "2", "hosturl": "https://b.example/x"},
		},
		{
			"empty",
			"",
			nil,
		},
		{
			"no pairs",
			"just some text",
			map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseZoneIdentifier(tt.raw))
		})
	}
}

func TestTimelineDatetime(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		want   string
		wantOK bool
	}{
		{"time value", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), "2024-05-01T10:00:00+0000", true},
		{"string value", "2024-05-01 10:00:00", "2024-05-01T10:00:00+0000", true},
		{"zero time", time.Time{}, "", false},
		{"empty string", "", "", false},
		{"n/a", "N/A", "", false},
		{"garbage", "soon", "", false},
		{"wrong type", int64(7), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := timelineDatetime(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJoinWindowsPath(t *testing.T) {
	assert.Equal(t, `.\Users\bob\x.txt`, joinWindowsPath(`.\Users\bob`, "x.txt"))
	assert.Equal(t, `.\Users\bob\x.txt`, joinWindowsPath(`.\Users\bob\`, "x.txt"))
	assert.Equal(t, "x.txt", joinWindowsPath("", "x.txt"))
	assert.Equal(t, `.\Users`, joinWindowsPath(`.\Users`, ""))
}
