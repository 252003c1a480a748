// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package pluginstore implements the per-plugin SQLite sandbox: one
// database file per plugin, opened with the host's standard pragmas,
// guarded by a single serial work queue, with a forbidden-statement
// filter and JSON-in/JSON-out exec and query operations.
//
// Pragmas follow the usual single-writer SQLite connection tuning (WAL,
// busy_timeout, cache_size, mmap_size), with foreign_keys switched ON
// since each plugin's own schema enforces its own referential integrity.
// Statement execution uses sqlitex.Execute/ExecuteTransient with an
// ExecOptions.Args slice and a ResultFunc callback, rather than manual
// Prepare/Bind/Step loops.
package pluginstore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Errors returned by Store methods, matching the database error taxonomy.
var (
	ErrNotOpen            = errors.New("pluginstore: database not open")
	ErrOpenFailed         = errors.New("pluginstore: open failed")
	ErrPrepareFailed      = errors.New("pluginstore: prepare failed")
	ErrExecFailed         = errors.New("pluginstore: exec failed")
	ErrForbiddenStatement = errors.New("Forbidden: ATTACH, DETACH, and LOAD_EXTENSION statements are not permitted")
)

// Store owns one SQLite connection for one plugin. All exec/query calls
// are serialized through s.mu, modelling the single serial work queue the
// host schedules plugin database operations on.
type Store struct {
	mu     sync.Mutex
	conn   *sqlite.Conn
	path   string
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the host's standard pragmas. The caller must call Close when
// the plugin is unloaded.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("pluginstore: path is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrOpenFailed, path, err)
	}

	if err := prepareConnection(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: preparing %s: %v", ErrOpenFailed, path, err)
	}

	logger.Info("plugin database opened", "path", path)
	return &Store{conn: conn, path: path, logger: logger}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-8192",
		"PRAGMA mmap_size=268435456",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the underlying connection. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("pluginstore: closing %s: %w", s.path, err)
	}
	s.logger.Info("plugin database closed", "path", s.path)
	return nil
}

// Exec runs sqlText with paramsJSON (a JSON array, or "" / "null" for no
// params) bound positionally, and returns the wire-format JSON response:
// {"changes":n,"last_insert_rowid":m} on success, {"error":"..."} on any
// failure including a forbidden statement. Exec never returns a Go error
// — every failure mode is encoded in the returned JSON, matching the
// host/plugin wire contract.
func (s *Store) Exec(sqlText, paramsJSON string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.execLocked(sqlText, paramsJSON)
	if err != nil {
		return errorJSON(err)
	}
	return result
}

func (s *Store) execLocked(sqlText, paramsJSON string) (string, error) {
	if s.conn == nil {
		return "", ErrNotOpen
	}
	if err := checkForbidden(sqlText); err != nil {
		return "", err
	}

	args, err := bindParams(paramsJSON)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPrepareFailed, err)
	}

	if err := sqlitex.ExecuteTransient(s.conn, sqlText, &sqlitex.ExecOptions{Args: args}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExecFailed, err)
	}

	changes := s.conn.Changes()
	lastInsertRowID := s.conn.LastInsertRowID()
	return fmt.Sprintf(`{"changes":%d,"last_insert_rowid":%d}`, changes, lastInsertRowID), nil
}

// Query runs sqlText with paramsJSON bound positionally, and returns
// {"columns":[...],"rows":[[...],...]} on success, or {"error":"..."} on
// failure. Like Exec, Query never returns a Go error.
func (s *Store) Query(sqlText, paramsJSON string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.queryLocked(sqlText, paramsJSON)
	if err != nil {
		return errorJSON(err)
	}
	return result
}

func (s *Store) queryLocked(sqlText, paramsJSON string) (string, error) {
	if s.conn == nil {
		return "", ErrNotOpen
	}
	if err := checkForbidden(sqlText); err != nil {
		return "", err
	}

	args, err := bindParams(paramsJSON)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPrepareFailed, err)
	}

	var columnNames []string
	var rows [][]string
	err = sqlitex.ExecuteTransient(s.conn, sqlText, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if columnNames == nil {
				columnCount := stmt.ColumnCount()
				columnNames = make([]string, columnCount)
				for i := 0; i < columnCount; i++ {
					columnNames[i] = stmt.ColumnName(i)
				}
			}
			row := make([]string, len(columnNames))
			for i := range row {
				row[i] = columnToJSONScalar(stmt, i)
			}
			rows = append(rows, row)
			return nil
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExecFailed, err)
	}

	return renderQueryJSON(columnNames, rows), nil
}

// bindParams decodes paramsJSON (a JSON array, or "" / "null" for none)
// into positional bind arguments for ExecOptions.Args. null becomes a Go
// nil (bound as SQL NULL); booleans become 0/1 integers since SQLite has
// no native boolean type; objects and arrays are re-serialized to
// compact JSON text (object keys sorted) and bound as TEXT.
func bindParams(paramsJSON string) ([]any, error) {
	trimmed := strings.TrimSpace(paramsJSON)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("decoding params array: %w", err)
	}

	args := make([]any, len(raw))
	for i, item := range raw {
		value, err := decodeParam(item)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		args[i] = value
	}
	return args, nil
}

func decodeParam(raw json.RawMessage) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
		return v, nil
	case string:
		return v, nil
	default:
		// object or array: rebind as its own JSON text.
		reencoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(reencoded), nil
	}
}

// checkForbidden rejects statements the sandbox never allows a plugin to
// run, regardless of its own database's contents: ATTACH/DETACH (which
// would let a plugin reach outside its own file) and LOAD_EXTENSION
// (which would let a plugin load arbitrary native code).
func checkForbidden(sqlText string) error {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	if strings.HasPrefix(upper, "ATTACH") || strings.HasPrefix(upper, "DETACH") {
		return ErrForbiddenStatement
	}
	if strings.Contains(upper, "LOAD_EXTENSION") {
		return ErrForbiddenStatement
	}
	return nil
}

// columnToJSONScalar renders column i of the current row as a JSON
// scalar: null for NULL, a bare number for INTEGER/FLOAT, a quoted
// string for TEXT, and a quoted base64 string for BLOB.
func columnToJSONScalar(stmt *sqlite.Stmt, column int) string {
	switch stmt.ColumnType(column) {
	case sqlite.TypeNull:
		return "null"
	case sqlite.TypeInteger:
		return strconv.FormatInt(stmt.ColumnInt64(column), 10)
	case sqlite.TypeFloat:
		return strconv.FormatFloat(stmt.ColumnFloat(column), 'g', -1, 64)
	case sqlite.TypeText:
		return jsonEscape(stmt.ColumnText(column))
	case sqlite.TypeBlob:
		length := stmt.ColumnLen(column)
		buf := make([]byte, length)
		stmt.ColumnBytes(column, buf)
		return jsonEscape(base64.StdEncoding.EncodeToString(buf))
	default:
		return "null"
	}
}

// renderQueryJSON assembles the {"columns":[...],"rows":[[...]]} response
// from already-rendered column names and per-cell JSON scalars.
func renderQueryJSON(columnNames []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(`{"columns":[`)
	for i, name := range columnNames {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(jsonEscape(name))
	}
	b.WriteString(`],"rows":[`)
	for i, row := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		for j, cell := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(cell)
		}
		b.WriteByte(']')
	}
	b.WriteString(`]}`)
	return b.String()
}

func errorJSON(err error) string {
	return fmt.Sprintf(`{"error":%s}`, jsonEscape(err.Error()))
}

// jsonEscape quotes and escapes s for embedding as a JSON string.
func jsonEscape(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		// json.Marshal does not fail for a string value (invalid
		// UTF-8 is replaced with U+FFFD), so this branch is unreachable.
		return `""`
	}
	return string(encoded)
}
