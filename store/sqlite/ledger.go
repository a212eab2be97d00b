// Package sqlite implements an append-only decision ledger backed by modernc.org/sqlite (a
// pure-Go SQLite driver, avoiding cgo), adapted from codenerd's internal/northstar.Store:
// database/sql plus a driver blank import, a schema created idempotently on open, and one
// exported method per write/read shape. The ledger is a host-side audit trail; the pipeline
// never reads from or writes to it directly.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/tripwire-kernel/kernel/agentevent"
)

// Record is one row of the decision ledger: everything the Pipeline produced for a single
// processed event, plus the session it belongs to.
type Record struct {
	SessionID string
	Sequence  int64
	State     agentevent.ActivityState
	Intent    agentevent.IntentDecision
	Decision  agentevent.SafetyDecision
	Result    agentevent.ExecutionResult
}

// Ledger persists Records to a SQLite database.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and ensures the ledger
// schema exists. WAL mode and a busy timeout are set the way codenerd's store does, since
// concurrent Pipelines (one file, many sessions) may write simultaneously.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS decisions (
		session_id TEXT NOT NULL,
		sequence   INTEGER NOT NULL,
		state_json    TEXT NOT NULL,
		intent_json   TEXT NOT NULL,
		decision_json TEXT NOT NULL,
		result_json   TEXT NOT NULL,
		PRIMARY KEY (session_id, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append inserts r into the ledger. Sequence numbers must be strictly increasing per
// session; a duplicate (sessionID, sequence) pair fails with a constraint error.
func (l *Ledger) Append(ctx context.Context, r Record) error {
	stateJSON, err := json.Marshal(r.State)
	if err != nil {
		return fmt.Errorf("sqlite: marshal state: %w", err)
	}
	intentJSON, err := json.Marshal(r.Intent)
	if err != nil {
		return fmt.Errorf("sqlite: marshal intent: %w", err)
	}
	decisionJSON, err := json.Marshal(r.Decision)
	if err != nil {
		return fmt.Errorf("sqlite: marshal decision: %w", err)
	}
	resultJSON, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("sqlite: marshal result: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO decisions (session_id, sequence, state_json, intent_json, decision_json, result_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.SessionID, r.Sequence, stateJSON, intentJSON, decisionJSON, resultJSON)
	if err != nil {
		return fmt.Errorf("sqlite: append record: %w", err)
	}
	return nil
}

// ForSession returns every Record for sessionID in ascending sequence order.
func (l *Ledger) ForSession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT session_id, sequence, state_json, intent_json, decision_json, result_json
		FROM decisions
		WHERE session_id = ?
		ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var stateJSON, intentJSON, decisionJSON, resultJSON []byte
		if err := rows.Scan(&r.SessionID, &r.Sequence, &stateJSON, &intentJSON, &decisionJSON, &resultJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		if err := json.Unmarshal(stateJSON, &r.State); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal state: %w", err)
		}
		if err := json.Unmarshal(intentJSON, &r.Intent); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal intent: %w", err)
		}
		if err := json.Unmarshal(decisionJSON, &r.Decision); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal decision: %w", err)
		}
		if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal result: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
