package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"github.com/VaXeS13/MP-sub001/internal/command"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
)

// CommandRecord is the durable trace of one processed command. CommandID is
// unique; inserting a duplicate reports ErrConflict so replayed commands are
// answered from the stored response instead of hitting the device twice.
type CommandRecord struct {
	CommandID    string
	TenantID     string
	Device       string
	Type         string
	Success      bool
	ErrorCode    string
	ErrorMessage string
	Payload      []byte
	ProcessedAt  time.Time
}

// Repository stores processed commands. Backed by memory for tests and by
// Postgres at runtime.
type Repository struct {
	mu      sync.RWMutex
	records []*CommandRecord
	index   map[string]*CommandRecord

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		records: make([]*CommandRecord, 0),
		index:   make(map[string]*CommandRecord),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordCommand persists an executed command's outcome.
func (r *Repository) RecordCommand(ctx context.Context, rec *CommandRecord) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.index[rec.CommandID]; ok {
			return fmt.Errorf("command %s already recorded: %w", rec.CommandID, ErrConflict)
		}
		r.records = append(r.records, rec)
		r.index[rec.CommandID] = rec
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO agent.commands(command_id, tenant_id, device, command_type, success, error_code, error_message, payload, processed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `, rec.CommandID, rec.TenantID, rec.Device, rec.Type, rec.Success, rec.ErrorCode, rec.ErrorMessage, rec.Payload, rec.ProcessedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// FindCommand returns the stored outcome for a command id.
func (r *Repository) FindCommand(ctx context.Context, commandID string) (*CommandRecord, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		rec, ok := r.index[commandID]
		if !ok {
			return nil, ErrNotFound
		}
		return rec, nil
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT command_id, tenant_id, device, command_type, success, error_code, error_message, payload, processed_at
          FROM agent.commands WHERE command_id=$1
    `, commandID)
	var rec CommandRecord
	if err := row.Scan(&rec.CommandID, &rec.TenantID, &rec.Device, &rec.Type,
		&rec.Success, &rec.ErrorCode, &rec.ErrorMessage, &rec.Payload, &rec.ProcessedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListCommands returns all stored commands for a tenant, newest first.
func (r *Repository) ListCommands(ctx context.Context, tenantID string) ([]*CommandRecord, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*CommandRecord
		for i := len(r.records) - 1; i >= 0; i-- {
			if r.records[i].TenantID == tenantID {
				out = append(out, r.records[i])
			}
		}
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT command_id, tenant_id, device, command_type, success, error_code, error_message, payload, processed_at
          FROM agent.commands WHERE tenant_id=$1 ORDER BY processed_at DESC
    `, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CommandRecord
	for rows.Next() {
		var rec CommandRecord
		if err := rows.Scan(&rec.CommandID, &rec.TenantID, &rec.Device, &rec.Type,
			&rec.Success, &rec.ErrorCode, &rec.ErrorMessage, &rec.Payload, &rec.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Response rebuilds the wire response from a stored record.
func (rec *CommandRecord) Response() command.Response {
	id, _ := uuid.Parse(rec.CommandID)
	return command.Response{
		CommandID:    id,
		Success:      rec.Success,
		ProcessedAt:  rec.ProcessedAt,
		Payload:      rec.Payload,
		ErrorCode:    rec.ErrorCode,
		ErrorMessage: rec.ErrorMessage,
	}
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
