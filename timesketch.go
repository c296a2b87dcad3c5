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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timeline row layout expected by Timesketch CSV imports.
var timesketchColumns = []string{
	"datetime", "timestamp_desc", "message",
	"source", "source_short", "source_long",
	"host", "user", "display_name", "filename", "filepath",
	"entry_number", "sequence_number", "size",
	"zone_identifier", "zone_identifier_raw", "zone_id",
	"zone_host_url", "zone_referrer_url", "zone_source_url",
	"alternate_data_stream", "extra_attributes",
}

// TimesketchTimeline rewrites typed MFT records into a Timesketch-friendly
// timeline: one row per populated $STANDARD_INFORMATION or $FILE_NAME
// timestamp. RAW records carry no usable timestamps and are skipped.
func TimesketchTimeline(records []NormalizedRecord) []NormalizedRecord {
	var rows []NormalizedRecord
	for i := range records {
		rows = append(rows, timelineRows(&records[i])...)
	}
	return rows
}

func timelineRows(rec *NormalizedRecord) []NormalizedRecord {
	if rec.IsRaw() {
		return nil
	}

	var timestampColumns []string
	for _, column := range rec.Columns {
		lowered := strings.ToLower(column)
		if strings.Contains(lowered, "0x10") || strings.Contains(lowered, "0x30") {
			timestampColumns = append(timestampColumns, column)
		}
	}
	if len(timestampColumns) == 0 {
		return nil
	}

	filename := fieldString(rec, "file_name", "name")
	parentPath := fieldString(rec, "parent_path", "directory", "path", "full_path")
	fullPath := joinWindowsPath(parentPath, filename)

	entryNumber := fieldString(rec, "entry_number")
	sequenceNumber := fieldString(rec, "sequence_number")
	size := fieldString(rec, "file_size", "size", "physical_size")
	user := fieldString(rec, "owner_sid", "owner")
	host := fieldString(rec, "volume_name", "drive_letter", "volume_serial_number")
	ads := fieldString(rec, "stream_name", "alternate_data_stream", "ads")

	zoneRaw := zoneContentsField(rec)
	zone := parseZoneIdentifier(zoneRaw)
	zoneID := firstOf(zone, "zoneid", "zone_id")
	hostURL := firstOf(zone, "hosturl", "zonehosturl", "url")
	referrerURL := firstOf(zone, "referrerurl", "zonereferrerurl")
	sourceURL := firstOf(zone, "sourceurl", "zonetransferurl")
	zoneIdentifier := fieldString(rec, "zone_identifier")
	if zoneIdentifier == "" {
		zoneIdentifier = zoneID
	}

	messageParts := []string{fullPath}
	if fullPath == "" {
		messageParts = []string{"<unknown path>"}
	}
	if size != "" {
		messageParts = append(messageParts, "Size: "+size)
	}
	if entryNumber != "" || sequenceNumber != "" {
		entry := entryNumber
		if sequenceNumber != "" {
			entry += ":" + sequenceNumber
		}
		messageParts = append(messageParts, "Entry: "+entry)
	}
	if zoneIdentifier != "" {
		messageParts = append(messageParts, "ZoneIdentifier: "+zoneIdentifier)
	}
	if ads != "" {
		messageParts = append(messageParts, "ADS: "+ads)
	}
	if hostURL != "" {
		messageParts = append(messageParts, "HostUrl: "+hostURL)
	}
	if referrerURL != "" {
		messageParts = append(messageParts, "ReferrerUrl: "+referrerURL)
	}
	message := strings.Join(messageParts, " | ")

	displayName := "MFTECmd"
	if fullPath != "" {
		displayName = "MFTE:" + fullPath
	}

	var rows []NormalizedRecord
	for _, column := range timestampColumns {
		datetime, ok := timelineDatetime(rec.Field(column))
		if !ok {
			continue
		}

		extra := map[string]interface{}{}
		consumed := map[string]bool{
			"entry_number": true, "sequence_number": true,
			"parent_path": true, "directory": true, "path": true, "full_path": true,
			"file_name": true, "name": true,
			"file_size": true, "size": true, "physical_size": true,
			"owner_sid": true, "owner": true,
			"volume_name": true, "drive_letter": true, "volume_serial_number": true,
			"zone_identifier": true,
			column:            true,
		}
		for _, name := range rec.Columns {
			if consumed[name] || strings.Contains(name, "zone") {
				continue
			}
			if value := rec.Field(name); value != nil && value != "" {
				extra[name] = value
			}
		}
		extraJSON := ""
		if len(extra) > 0 {
			if encoded, err := json.Marshal(extra); err == nil {
				extraJSON = string(encoded)
			}
		}

		rows = append(rows, NormalizedRecord{
			Columns: timesketchColumns,
			Fields: map[string]interface{}{
				"datetime":              datetime,
				"timestamp_desc":        describeMFTTimestamp(column),
				"message":               message,
				"source":                "MFTECmd",
				"source_short":          "$MFT",
				"source_long":           "MFTECmd $MFT Parser",
				"host":                  host,
				"user":                  user,
				"display_name":          displayName,
				"filename":              filename,
				"filepath":              fullPath,
				"entry_number":          entryNumber,
				"sequence_number":       sequenceNumber,
				"size":                  size,
				"zone_identifier":       zoneIdentifier,
				"zone_identifier_raw":   zoneRaw,
				"zone_id":               zoneID,
				"zone_host_url":         hostURL,
				"zone_referrer_url":     referrerURL,
				"zone_source_url":       sourceURL,
				"alternate_data_stream": ads,
				"extra_attributes":      extraJSON,
			},
			Line: rec.Line,
		})
	}
	return rows
}

// describeMFTTimestamp labels a timestamp column with its MFT attribute.
func describeMFTTimestamp(column string) string {
	lowered := strings.ToLower(column)

	attribute := "MFTECmd"
	switch {
	case strings.Contains(lowered, "0x10"):
		attribute = "$STANDARD_INFORMATION"
	case strings.Contains(lowered, "0x30"):
		attribute = "$FILE_NAME"
	}

	// Unrecognized timestamp columns keep their literal name as the action.
	action := column
	switch {
	case strings.Contains(lowered, "created"):
		action = "Created"
	case strings.Contains(lowered, "modified"):
		action = "Modified"
	case strings.Contains(lowered, "access"):
		action = "Accessed"
	}

	return fmt.Sprintf("MFTECmd %s - %s", attribute, action)
}

// timelineDatetime normalizes a timestamp field to UTC in the format
// Timesketch expects.
func timelineDatetime(value interface{}) (string, bool) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return "", false
		}
		return v.UTC().Format("2006-01-02T15:04:05-0700"), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || strings.EqualFold(trimmed, "n/a") || strings.EqualFold(trimmed, "na") || trimmed == "0" {
			return "", false
		}
		t, err := parseToolTime(trimmed)
		if err != nil {
			return "", false
		}
		return t.UTC().Format("2006-01-02T15:04:05-0700"), true
	default:
		return "", false
	}
}

// parseZoneIdentifier parses Zone.Identifier ADS contents into lowered
// key/value pairs.
func parseZoneIdentifier(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	normalized := strings.Trim(strings.TrimSpace(raw), `"`)
	normalized = strings.ReplaceAll(normalized, `\r`, "\n")
	normalized = strings.ReplaceAll(normalized, `\n`, "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	parsed := map[string]string{}
	for _, line := range strings.Split(normalized, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		parsed[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return parsed
}

func zoneContentsField(rec *NormalizedRecord) string {
	for _, column := range rec.Columns {
		if strings.Contains(column, "zone") && strings.Contains(column, "contents") {
			return fieldString(rec, column)
		}
	}
	return ""
}

// fieldString returns the first non-empty candidate field rendered as text.
func fieldString(rec *NormalizedRecord, names ...string) string {
	for _, name := range names {
		switch v := rec.Field(name).(type) {
		case nil:
			continue
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case time.Time:
			return v.UTC().Format(time.RFC3339)
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func firstOf(m map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := m[key]; v != "" {
			return v
		}
	}
	return ""
}

func joinWindowsPath(parent, name string) string {
	if parent == "" || name == "" {
		if name != "" {
			return name
		}
		return parent
	}
	if strings.HasSuffix(parent, `\`) || strings.HasSuffix(parent, "/") {
		return parent + name
	}
	return parent + `\` + name
}
