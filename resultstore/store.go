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

// Package resultstore archives emitted task results in a local sqlite
// database so investigators can audit past extractions without the
// upstream case management system.
package resultstore

import (
	"encoding/json"
	"fmt"
	"time"

	"crawshaw.io/sqlite"
	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	eztools "github.com/julianghill/openrelik-worker-eztools"
)

const storeVersion = 1
const resultsApplicationID = 1702133868

// Store is a sqlite-backed archive of task results.
type Store struct {
	cursor *sqlite.Conn
}

// Open opens or initializes a result archive at url.
func Open(url string) (*Store, error) {
	cursor, err := sqlite.OpenConn(url, 0)
	if err != nil {
		return nil, err
	}
	store := &Store{cursor: cursor}

	applicationID, err := pragma(cursor, "application_id")
	if err != nil {
		return nil, err
	}
	switch applicationID {
	case 0:
		if err := setPragma(cursor, "application_id", resultsApplicationID); err != nil {
			return nil, err
		}
		if err := setPragma(cursor, "user_version", storeVersion); err != nil {
			return nil, err
		}
		err = store.exec("CREATE TABLE IF NOT EXISTS `results` " +
			"(id TEXT PRIMARY KEY, status TEXT NOT NULL, json TEXT NOT NULL, meta TEXT NOT NULL, insert_time TEXT NOT NULL)")
		if err != nil {
			return nil, err
		}
	case resultsApplicationID:
		version, err := pragma(cursor, "user_version")
		if err != nil {
			return nil, err
		}
		if version != storeVersion {
			return nil, fmt.Errorf("wrong file format (user_version is %d, requires %d)", version, storeVersion)
		}
	default:
		return nil, fmt.Errorf("wrong file format (application_id is %d, requires %d)", applicationID, resultsApplicationID)
	}

	return store, nil
}

// Insert archives a single result. Re-inserting the same task id replaces
// the previous row.
func (store *Store) Insert(result *eztools.TaskResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "could not encode result")
	}

	meta := lower(structs.Map(summaryOf(result)))
	metaEncoded, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "could not encode result meta")
	}

	query := "INSERT OR REPLACE INTO `results` (id, status, json, meta, insert_time) VALUES ($id, $status, $json, $meta, $time)"
	stmt, err := store.cursor.Prepare(query)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("could not prepare statement %s", query))
	}
	stmt.SetText("$id", result.TaskID)
	stmt.SetText("$status", string(result.Status))
	stmt.SetText("$json", string(encoded))
	stmt.SetText("$meta", string(metaEncoded))
	stmt.SetText("$time", time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if _, err = stmt.Step(); err != nil {
		return errors.Wrap(err, fmt.Sprint("could not exec statement ", query))
	}
	return stmt.Finalize()
}

// Get retrieves a single archived result.
func (store *Store) Get(taskID string) (*eztools.TaskResult, error) {
	stmt, err := store.cursor.Prepare("SELECT json FROM `results` WHERE id=$id")
	if err != nil {
		return nil, err
	}
	stmt.SetText("$id", taskID)

	rows, err := rowsToText(stmt, "json")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("result does not exist")
	}
	result := &eztools.TaskResult{}
	if err := json.Unmarshal([]byte(rows[0]), result); err != nil {
		return nil, err
	}
	return result, nil
}

// Summary is a compact audit view over one archived result.
type Summary struct {
	TaskID      string
	Status      string
	ToolName    string
	CommandLine string
	Records     int64
	Warnings    int64
	TimedOut    bool
	InsertTime  string
}

// Summaries lists archived results, optionally filtered by status.
func (store *Store) Summaries(status string) ([]Summary, error) {
	query := "SELECT meta, insert_time FROM `results`"
	if status != "" {
		query += " WHERE status=$status"
	}
	query += " ORDER BY insert_time"
	stmt, err := store.cursor.Prepare(query)
	if err != nil {
		return nil, err
	}
	if status != "" {
		stmt.SetText("$status", status)
	}

	summaries := []Summary{}
	for {
		if hasRow, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasRow {
			break
		}
		meta := stmt.GetText("meta")
		summaries = append(summaries, Summary{
			TaskID:      gjson.Get(meta, "task_id").String(),
			Status:      gjson.Get(meta, "status").String(),
			ToolName:    gjson.Get(meta, "tool_name").String(),
			CommandLine: gjson.Get(meta, "command_line").String(),
			Records:     gjson.Get(meta, "records").Int(),
			Warnings:    gjson.Get(meta, "warnings").Int(),
			TimedOut:    gjson.Get(meta, "timed_out").Bool(),
			InsertTime:  stmt.GetText("insert_time"),
		})
	}
	return summaries, stmt.Finalize()
}

// Close closes the archive.
func (store *Store) Close() error {
	return store.cursor.Close()
}

func rowsToText(stmt *sqlite.Stmt, column string) ([]string, error) {
	rows := []string{}
	for {
		if hasRow, err := stmt.Step(); err != nil {
			return nil, err
		} else if !hasRow {
			break
		}
		rows = append(rows, stmt.GetText(column))
	}
	return rows, stmt.Finalize()
}

func (store *Store) exec(query string) error {
	stmt, err := store.cursor.Prepare(query)
	if err != nil {
		return err
	}
	if _, err = stmt.Step(); err != nil {
		return err
	}
	return stmt.Finalize()
}

func pragma(conn *sqlite.Conn, name string) (int64, error) {
	stmt, err := conn.Prepare("PRAGMA " + name)
	if err != nil {
		return 0, err
	}
	if _, err = stmt.Step(); err != nil {
		return 0, err
	}
	i := stmt.GetInt64(name)
	return i, stmt.Finalize()
}

func setPragma(conn *sqlite.Conn, name string, i int64) error {
	stmt, err := conn.Prepare("PRAGMA " + name + " = " + fmt.Sprint(i))
	if err != nil {
		return err
	}
	if _, err = stmt.Step(); err != nil {
		return err
	}
	return stmt.Finalize()
}
