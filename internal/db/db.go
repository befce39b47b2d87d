// Package db records the bridge's telemetry and command history in sqlite.
// Every published state snapshot and every sent command line can be written
// here for later analysis or replay.
package db

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/laminar-data/fgbridge/internal/monitoring"
)

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (or creates) the sqlite database at path. Schema management is
// separate; call MigrateUp before recording.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{DB: db, path: path}, nil
}

// StateRow is one recorded telemetry snapshot.
type StateRow struct {
	ID        int64     `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Values    []float64 `json:"values"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandRow is one recorded outbound command line.
type CommandRow struct {
	CommandID string    `json:"command_id"`
	Endpoint  string    `json:"endpoint"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

// encodeValues renders a snapshot the way it travels on the wire, tab
// separated, so recorded rows can be replayed through the decode path.
func encodeValues(values []float64) string {
	tokens := make([]string, len(values))
	for i, v := range values {
		tokens[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(tokens, "\t")
}

func decodeValues(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	tokens := strings.Split(s, "\t")
	values := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt state row token %q: %w", tok, err)
		}
		values[i] = v
	}
	return values, nil
}

// RecordState stores one state snapshot for an endpoint.
func (db *DB) RecordState(endpoint string, values []float64) error {
	_, err := db.Exec(
		`INSERT INTO state (endpoint, field_values, num_fields) VALUES (?, ?, ?)`,
		endpoint, encodeValues(values), len(values),
	)
	if err != nil {
		return fmt.Errorf("failed to record state: %w", err)
	}
	return nil
}

// RecordCommand stores one sent command line and returns its id.
func (db *DB) RecordCommand(endpoint, line string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO commands (command_id, endpoint, line) VALUES (?, ?, ?)`,
		id, endpoint, strings.TrimRight(line, "\n"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record command: %w", err)
	}
	return id, nil
}

// RecentStates returns up to limit snapshots for an endpoint, newest first.
func (db *DB) RecentStates(endpoint string, limit int) ([]StateRow, error) {
	rows, err := db.Query(
		`SELECT id, endpoint, field_values, timestamp FROM state
		 WHERE endpoint = ? ORDER BY id DESC LIMIT ?`,
		endpoint, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	var out []StateRow
	for rows.Next() {
		var r StateRow
		var encoded string
		if err := rows.Scan(&r.ID, &r.Endpoint, &encoded, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		if r.Values, err = decodeValues(encoded); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentCommands returns up to limit command lines for an endpoint, newest
// first.
func (db *DB) RecentCommands(endpoint string, limit int) ([]CommandRow, error) {
	rows, err := db.Query(
		`SELECT command_id, endpoint, line, timestamp FROM commands
		 WHERE endpoint = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		endpoint, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var r CommandRow
		if err := rows.Scan(&r.CommandID, &r.Endpoint, &r.Line, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan command row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts database debugging endpoints under /debug/. These
// are reachable only locally or over the tailnet, never publicly.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Bridge DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, backupPath)
		monitoring.Logf("db: served backup %s", backupPath)
	}))
	return nil
}
