package agent

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/exp/slog"

	"github.com/VaXeS13/MP-sub001/internal/command"
)

// JournalEntry pairs a command with its outcome for local troubleshooting.
type JournalEntry struct {
	Envelope command.Envelope `json:"envelope"`
	Response command.Response `json:"response"`
}

// Journal keeps a local append-only trace of every command the agent
// executed. It survives channel outages, which is exactly when it is
// needed.
type Journal struct {
	db     *badger.DB
	logger *slog.Logger
}

func OpenJournal(logger *slog.Logger, dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir).
		WithValueLogFileSize(1 << 20).
		WithSyncWrites(false).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening command journal: %w", err)
	}
	return &Journal{
		db:     db,
		logger: logger.With(slog.String("component", "journal")),
	}, nil
}

// Append records one executed command. Journal failures are logged, never
// propagated: the journal must not break command execution.
func (j *Journal) Append(env command.Envelope, resp command.Response) {
	entry := JournalEntry{Envelope: env, Response: resp}
	data, err := json.Marshal(entry)
	if err != nil {
		j.logger.Error("marshalling journal entry", slog.String("error", err.Error()))
		return
	}
	// Keys sort by execution time; the command id keeps them unique.
	key := fmt.Sprintf("cmd_%020d_%s", time.Now().UnixNano(), env.CommandID)
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		j.logger.Error("writing journal entry",
			slog.String("command_id", env.CommandID.String()),
			slog.String("error", err.Error()))
	}
}

// Tail returns up to limit most recent entries, newest first.
func (j *Journal) Tail(limit int) ([]JournalEntry, error) {
	var out []JournalEntry
	err := j.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Reverse = true
		it := txn.NewIterator(itOpts)
		defer it.Close()

		// Seek past the last cmd_ key, then walk backwards.
		for it.Seek([]byte("cmd~")); it.ValidForPrefix([]byte("cmd_")) && len(out) < limit; it.Next() {
			var entry JournalEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return out, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
