package agent_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/VaXeS13/MP-sub001/agent"
	"github.com/VaXeS13/MP-sub001/internal/command"

	_ "github.com/lib/pq"
)

// TestCommandDedupInDB verifies that agent.commands rejects a duplicate
// command_id so replays are answered from the stored row.
// Skips unless DB_DSN is provided and REPO_BACKEND=pg.
func TestCommandDedupInDB(t *testing.T) {
	if os.Getenv("REPO_BACKEND") != "pg" {
		t.Skip("REPO_BACKEND != pg; skipping DB integration test")
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN not set; skipping DB integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Fatalf("ping db: %v", err)
	}

	repo := agent.NewPGRepository(db)
	ctx := context.Background()

	rec := &agent.CommandRecord{
		CommandID:   uuid.New().String(),
		TenantID:    uuid.New().String(),
		Device:      command.DeviceTerminal,
		Type:        command.TypeAuthorize,
		Success:     true,
		Payload:     json.RawMessage(`{"result":{"success":true}}`),
		ProcessedAt: time.Now().UTC(),
	}
	if err := repo.RecordCommand(ctx, rec); err != nil {
		t.Fatalf("record command: %v", err)
	}
	if err := repo.RecordCommand(ctx, rec); !errors.Is(err, agent.ErrConflict) {
		t.Fatalf("duplicate insert: got %v, want ErrConflict", err)
	}

	found, err := repo.FindCommand(ctx, rec.CommandID)
	if err != nil {
		t.Fatalf("find command: %v", err)
	}
	if !found.Success || found.TenantID != rec.TenantID {
		t.Fatalf("stored row mismatch: %+v", found)
	}
}
