package mcp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"deskagent/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// Store keeps the last known status of every plugin server and usage
// statistics for plugin tools in SQLite.
type Store struct {
	mu sync.RWMutex

	db     *sql.DB
	dbPath string
}

// ServerRecord is the persisted view of one server.
type ServerRecord struct {
	ServerID      string
	Name          string
	Transport     Protocol
	State         ServerStatus
	ToolCount     int
	LastError     string
	UpdatedAt     time.Time
	LastConnected time.Time
}

// ToolRecord is the persisted view of one plugin tool.
type ToolRecord struct {
	ToolID       string
	ServerID     string
	Name         string
	Description  string
	UsageCount   int64
	SuccessCount int64
	AvgLatencyMs int64
	LastUsed     time.Time
	RegisteredAt time.Time
}

// NewStore opens (or creates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("opened plugin store at %s", dbPath)
	return store, nil
}

// initialize creates the database schema.
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS mcp_servers (
			server_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			transport TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'disconnected',
			tool_count INTEGER DEFAULT 0,
			last_error TEXT,
			updated_at DATETIME,
			last_connected DATETIME
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mcp_servers table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS mcp_tools (
			tool_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,

			usage_count INTEGER DEFAULT 0,
			success_count INTEGER DEFAULT 0,
			avg_latency_ms INTEGER DEFAULT 0,
			last_used DATETIME,

			registered_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mcp_tools table: %w", err)
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_mcp_tools_server ON mcp_tools(server_id)`)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStatus upserts the server's current status. last_connected only
// moves when the server reaches connected.
func (s *Store) RecordStatus(ctx context.Context, cfg ServerConfig, status ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := status.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	var lastConnected any
	if status.State == ServerStatusConnected {
		lastConnected = updated
	}
	lastError := ""
	if status.State == ServerStatusError {
		lastError = status.Message
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (server_id, name, transport, state, tool_count, last_error, updated_at, last_connected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			state = excluded.state,
			tool_count = excluded.tool_count,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			last_connected = COALESCE(excluded.last_connected, mcp_servers.last_connected)
	`, cfg.ID, cfg.Name, string(cfg.Transport), string(status.State), status.ToolCount, lastError, updated, lastConnected)
	return err
}

// Server returns the record for serverID, or nil if none exists.
func (s *Store) Server(ctx context.Context, serverID string) (*ServerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT server_id, name, transport, state, tool_count, last_error, updated_at, last_connected
		FROM mcp_servers WHERE server_id = ?
	`, serverID)
	rec, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Servers returns every server record ordered by name.
func (s *Store) Servers(ctx context.Context) ([]*ServerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, name, transport, state, tool_count, last_error, updated_at, last_connected
		FROM mcp_servers ORDER BY name, server_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteServer removes a server and its tools.
func (s *Store) DeleteServer(ctx context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM mcp_tools WHERE server_id = ?`, serverID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE server_id = ?`, serverID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*ServerRecord, error) {
	var rec ServerRecord
	var transport, state string
	var lastError sql.NullString
	var updatedAt, lastConnected sql.NullTime

	err := row.Scan(&rec.ServerID, &rec.Name, &transport, &state, &rec.ToolCount, &lastError, &updatedAt, &lastConnected)
	if err != nil {
		return nil, err
	}
	rec.Transport = Protocol(transport)
	rec.State = ServerStatus(state)
	rec.LastError = lastError.String
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}
	if lastConnected.Valid {
		rec.LastConnected = lastConnected.Time
	}
	return &rec, nil
}

// SaveTools records the tools a server currently exposes. Usage counters
// of tools that survive a refresh are kept.
func (s *Store) SaveTools(ctx context.Context, serverID string, tools []ToolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mcp_tools (tool_id, server_id, name, description, registered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tool_id) DO UPDATE SET
			server_id = excluded.server_id,
			name = excluded.name,
			description = excluded.description
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, tool := range tools {
		if _, err := stmt.ExecContext(ctx, tool.ToolID, serverID, tool.Name, tool.Description, now); err != nil {
			return fmt.Errorf("saving tool %s: %w", tool.ToolID, err)
		}
	}
	return tx.Commit()
}

// RecordToolUsage updates usage statistics for a tool.
func (s *Store) RecordToolUsage(ctx context.Context, toolID string, success bool, latencyMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	successInc := 0
	if success {
		successInc = 1
	}

	// Update counts and running average latency
	_, err := s.db.ExecContext(ctx, `
		UPDATE mcp_tools SET
			usage_count = usage_count + 1,
			success_count = success_count + ?,
			avg_latency_ms = ((avg_latency_ms * usage_count) + ?) / (usage_count + 1),
			last_used = ?
		WHERE tool_id = ?
	`, successInc, latencyMs, time.Now(), toolID)
	return err
}

// Tool returns the record for toolID, or nil if none exists.
func (s *Store) Tool(ctx context.Context, toolID string) (*ToolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT tool_id, server_id, name, description, usage_count, success_count, avg_latency_ms, last_used, registered_at
		FROM mcp_tools WHERE tool_id = ?
	`, toolID)
	rec, err := scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ToolsByServer returns the tools recorded for a server, most used first.
func (s *Store) ToolsByServer(ctx context.Context, serverID string) ([]*ToolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_id, server_id, name, description, usage_count, success_count, avg_latency_ms, last_used, registered_at
		FROM mcp_tools WHERE server_id = ?
		ORDER BY usage_count DESC, tool_id
	`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []*ToolRecord
	for rows.Next() {
		rec, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, rec)
	}
	return tools, rows.Err()
}

func scanTool(row rowScanner) (*ToolRecord, error) {
	var rec ToolRecord
	var description sql.NullString
	var lastUsed, registeredAt sql.NullTime

	err := row.Scan(&rec.ToolID, &rec.ServerID, &rec.Name, &description,
		&rec.UsageCount, &rec.SuccessCount, &rec.AvgLatencyMs, &lastUsed, &registeredAt)
	if err != nil {
		return nil, err
	}
	rec.Description = description.String
	if lastUsed.Valid {
		rec.LastUsed = lastUsed.Time
	}
	if registeredAt.Valid {
		rec.RegisteredAt = registeredAt.Time
	}
	return &rec, nil
}
