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
	"encoding/csv"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/forensicanalysis/fsdoublestar"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stoewer/go-strcase"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
)

// Normalizer converts tool output files into normalized records. Tool
// versions drift in output shape over time; a row that no longer matches
// the declared schema is kept verbatim instead of dropped, because
// evidential completeness matters more than schema conformance.
type Normalizer struct {
	fs  afero.Fs
	log *zap.Logger
}

// NewNormalizer creates a normalizer reading from the given filesystem.
func NewNormalizer(fs afero.Fs, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{fs: fs, log: log}
}

// Normalize locates the output file the invocation should have produced and
// parses it row by row. A missing output file yields an empty record set
// with a warning, not an error; the assembler decides the final status.
// Only an undecodable file is an error, terminal for the task.
func (n *Normalizer) Normalize(spec *ToolSpec, inv *ToolInvocation, outputDir string) ([]NormalizedRecord, []string, error) {
	var warnings []string

	entries, err := afero.ReadDir(n.fs, outputDir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not scan output directory")
	}
	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := fsdoublestar.Match(inv.OutputPattern, entry.Name())
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid output pattern %q", inv.OutputPattern)
		}
		if matched {
			matches = append(matches, filepath.Join(outputDir, entry.Name()))
		}
	}
	if len(matches) == 0 {
		warnings = append(warnings, fmt.Sprintf("no output produced (no file matching %q in %s)", inv.OutputPattern, outputDir))
		return nil, warnings, nil
	}
	sort.Strings(matches)
	outputFile := matches[0]
	if len(matches) > 1 {
		warnings = append(warnings, fmt.Sprintf("multiple output files match %q, using %s", inv.OutputPattern, outputFile))
	}

	data, err := afero.ReadFile(n.fs, outputFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not read output file")
	}
	text, err := decodeOutput(data)
	if err != nil {
		return nil, nil, err
	}

	lines := splitLines(text)

	var records []NormalizedRecord
	var rowWarnings []string
	switch inv.OutputFormat {
	case "json":
		records, rowWarnings = parseJSONRows(lines)
	case "body":
		records, rowWarnings = parseBodyRows(lines)
	default:
		records, rowWarnings = parseCSVRows(lines, spec.Schema)
	}
	warnings = append(warnings, rowWarnings...)

	n.log.Debug("normalized output",
		zap.String("file", outputFile),
		zap.Int("records", len(records)),
		zap.Int("warnings", len(warnings)))
	return records, warnings, nil
}

// decodeOutput decodes UTF-8 (with or without byte-order mark) or UTF-16
// output. EZ tools emit UTF-8 with BOM by default but UTF-16 shows up when
// console redirection is involved.
func decodeOutput(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xef, 0xbb, 0xbf}):
		data = data[3:]
		if !utf8.Valid(data) {
			return "", ErrUnsupportedEncoding
		}
		return string(data), nil
	case bytes.HasPrefix(data, []byte{0xff, 0xfe}), bytes.HasPrefix(data, []byte{0xfe, 0xff}):
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		decoded, err := decoder.Bytes(data)
		if err != nil {
			return "", ErrUnsupportedEncoding
		}
		return string(decoded), nil
	default:
		if bytes.IndexByte(data, 0x00) == -1 {
			if utf8.Valid(data) {
				return string(data), nil
			}
			return "", ErrUnsupportedEncoding
		}
		// NUL bytes rule out plain text; a UTF-16LE file without BOM is
		// the remaining supported case. Such text carries NUL high bytes
		// throughout; a lower share means binary, not text.
		if bytes.Count(data, []byte{0x00})*4 < len(data) {
			return "", ErrUnsupportedEncoding
		}
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		decoded, err := decoder.Bytes(data)
		if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
			return "", ErrUnsupportedEncoding
		}
		return string(decoded), nil
	}
}

type numberedLine struct {
	number int
	text   string
}

func splitLines(text string) []numberedLine {
	var lines []numberedLine
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, numberedLine{number: i + 1, text: line})
	}
	return lines
}

// parseCSVRows parses delimited output against the declared schema. The
// first line is the header; every following line either becomes a typed
// record or falls back to a RAW record with a warning. One bad row never
// aborts the batch.
func parseCSVRows(lines []numberedLine, schema []Column) ([]NormalizedRecord, []string) {
	if len(lines) == 0 {
		return nil, nil
	}

	var records []NormalizedRecord
	var warnings []string

	headers, err := parseCSVLine(lines[0].text)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("line %d: unparseable header: %v", lines[0].number, err))
		for _, line := range lines {
			records = append(records, NormalizedRecord{Raw: line.text, Line: line.number})
		}
		return records, warnings
	}

	types := make(map[string]ColumnType, len(schema))
	for _, column := range schema {
		types[column.Header] = column.Type
	}
	columns := make([]string, len(headers))
	for i, header := range headers {
		columns[i] = strcase.SnakeCase(header)
	}

	for _, line := range lines[1:] {
		values, err := parseCSVLine(line.text)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("line %d: %v", line.number, err))
			records = append(records, NormalizedRecord{Raw: line.text, Line: line.number})
			continue
		}
		if len(values) != len(headers) {
			warnings = append(warnings, fmt.Sprintf("line %d: expected %d fields, got %d", line.number, len(headers), len(values)))
			records = append(records, NormalizedRecord{Raw: line.text, Line: line.number})
			continue
		}

		fields := make(map[string]interface{}, len(values))
		typed := true
		for i, value := range values {
			converted, err := typeValue(value, types[headers[i]])
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("line %d: column %s: %v", line.number, headers[i], err))
				typed = false
				break
			}
			fields[columns[i]] = converted
		}
		if !typed {
			records = append(records, NormalizedRecord{Raw: line.text, Line: line.number})
			continue
		}
		records = append(records, NormalizedRecord{Columns: columns, Fields: fields, Line: line.number})
	}
	return records, warnings
}

// parseCSVLine parses a single physical line. Parsing per line keeps the
// original text available for RAW fallbacks; multi-line quoted fields are
// not produced by the supported tools.
func parseCSVLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	return reader.Read()
}

func typeValue(raw string, columnType ColumnType) (interface{}, error) {
	if raw == "" {
		return "", nil
	}
	switch columnType {
	case TypeInt:
		i, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return i, nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", raw)
		}
		return b, nil
	case TypeTime:
		t, err := parseToolTime(raw)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return raw, nil
	}
}

var toolTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

func parseToolTime(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range toolTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a timestamp: %q", raw)
}

// parseJSONRows handles the tools' json output mode, one object per line.
func parseJSONRows(lines []numberedLine) ([]NormalizedRecord, []string) {
	var records []NormalizedRecord
	var warnings []string
	for _, line := range lines {
		if !gjson.Valid(line.text) {
			warnings = append(warnings, fmt.Sprintf("line %d: invalid json", line.number))
			records = append(records, NormalizedRecord{Raw: line.text, Line: line.number})
			continue
		}
		parsed := gjson.Parse(line.text)
		if !parsed.IsObject() {
			warnings = append(warnings, fmt.Sprintf("line %d: not a json object", line.number))
			records = append(records, NormalizedRecord{Raw: line.text, Line: line.number})
			continue
		}

		var columns []string
		fields := map[string]interface{}{}
		parsed.ForEach(func(key, value gjson.Result) bool {
			name := strcase.SnakeCase(key.String())
			columns = append(columns, name)
			fields[name] = value.Value()
			return true
		})
		records = append(records, NormalizedRecord{Columns: columns, Fields: fields, Line: line.number})
	}
	return records, warnings
}

// Bodyfile column layout, see the sleuthkit 3.x body format.
var bodyColumns = []Column{
	{"MD5", TypeString}, {"Name", TypeString}, {"Inode", TypeString},
	{"Mode", TypeString}, {"UID", TypeInt}, {"GID", TypeInt},
	{"Size", TypeInt}, {"ATime", TypeInt}, {"MTime", TypeInt},
	{"CTime", TypeInt}, {"CrTime", TypeInt},
}

func parseBodyRows(lines []numberedLine) ([]NormalizedRecord, []string) {
	columns := make([]string, len(bodyColumns))
	for i, column := range bodyColumns {
		columns[i] = strcase.SnakeCase(column.Header)
	}

	var records []NormalizedRecord
	var warnings []string
	for _, line := range lines {
		values := strings.Split(line.text, "|")
		if len(values) != len(bodyColumns) {
			warnings = append(warnings, fmt.Sprintf("line %d: expected %d fields, got %d", line.number, len(bodyColumns), len(values)))
			records = append(records, NormalizedRecord{Raw: line.text, Line: line.number})
			continue
		}
		fields := make(map[string]interface{}, len(values))
		typed := true
		for i, value := range values {
			converted, err := typeValue(value, bodyColumns[i].Type)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("line %d: column %s: %v", line.number, bodyColumns[i].Header, err))
				typed = false
				break
			}
			fields[columns[i]] = converted
		}
		if !typed {
			records = append(records, NormalizedRecord{Raw: line.text, Line: line.number})
			continue
		}
		records = append(records, NormalizedRecord{Columns: columns, Fields: fields, Line: line.number})
	}
	return records, warnings
}
