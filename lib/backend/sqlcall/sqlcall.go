// Package sqlcall executes SQL statements as dispatch calls. Query results are
// encoded as a JSON array of row objects, statements report the affected rows.
//
// Any database/sql driver works. The dcall CLI registers the pgx driver
// ("pgx") for PostgreSQL.
package sqlcall

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/ValentinKolb/dCall/lib/call"
)

// Mode selects how the statement is run
type Mode int

const (
	// Query returns rows
	Query Mode = iota
	// Exec returns the number of affected rows
	Exec
)

// Meta keys set on the payload
const (
	MetaRows     = "rows"
	MetaAffected = "affected"
)

// Statement describes one SQL call
type Statement struct {
	Mode  Mode
	SQL   string
	Args  []any
	Limit int // maximum rows read by a query, 0 for no limit
}

// Executor runs a statement on a database handle
type Executor struct {
	db   *sql.DB
	stmt Statement

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted bool
}

func New(db *sql.DB, stmt Statement) *Executor {
	return &Executor{db: db, stmt: stmt}
}

// NewCall wraps a statement in an envelope
func NewCall(system, method string, db *sql.DB, stmt Statement, opts ...call.Option) *call.Envelope {
	return call.New(system, method, New(db, stmt), opts...)
}

func (e *Executor) Execute(ctx context.Context) (*call.Payload, error) {
	e.mu.Lock()
	if e.aborted {
		e.mu.Unlock()
		return nil, call.ErrAborted
	}
	ctx, e.cancel = context.WithCancel(ctx)
	cancel := e.cancel
	e.mu.Unlock()
	defer cancel()

	if e.stmt.Mode == Exec {
		res, err := e.db.ExecContext(ctx, e.stmt.SQL, e.stmt.Args...)
		if err != nil {
			return nil, &call.BackendError{Msg: "exec", Err: err}
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, &call.BackendError{Msg: "rows affected", Err: err}
		}
		return &call.Payload{Meta: map[string]string{MetaAffected: strconv.FormatInt(affected, 10)}}, nil
	}

	rows, err := e.db.QueryContext(ctx, e.stmt.SQL, e.stmt.Args...)
	if err != nil {
		return nil, &call.BackendError{Msg: "query", Err: err}
	}
	defer rows.Close()

	records, err := scan(rows, e.stmt.Limit)
	if err != nil {
		return nil, &call.BackendError{Msg: "scan", Err: err}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return &call.Payload{
		Body: body,
		Meta: map[string]string{MetaRows: strconv.Itoa(len(records))},
	}, nil
}

func (e *Executor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
	if e.cancel != nil {
		e.cancel()
	}
}

func scan(rows *sql.Rows, limit int) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	records := make([]map[string]any, 0)
	for rows.Next() {
		if limit > 0 && len(records) >= limit {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = values[i]
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Rows returns a converter that decodes the JSON rows of a query into []T
func Rows[T any]() call.Converter {
	return func(p *call.Payload) (any, error) {
		var out []T
		if err := json.Unmarshal(p.Body, &out); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
		return out, nil
	}
}
