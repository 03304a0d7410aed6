package sqlcall

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// In-memory driver
// --------------------------------------------------------------------------

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) { return &fakeConn{}, nil }

type fakeConn struct{}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (c *fakeConn) QueryContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	switch query {
	case "SELECT users":
		return &fakeRows{cols: []string{"id", "name"}, data: [][]driver.Value{{int64(1), []byte("ada")}, {int64(2), []byte("grace")}}}, nil
	case "SELECT hang":
		<-ctx.Done()
		return nil, ctx.Err()
	default:
		return nil, errors.New("syntax error")
	}
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	return driver.RowsAffected(3), nil
}

type fakeRows struct {
	cols []string
	data [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func init() {
	sql.Register("sqlcall-fake", fakeDriver{})
}

func openFake(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlcall-fake", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestQueryRows(t *testing.T) {
	env := NewCall("users", "list", openFake(t), Statement{SQL: "SELECT users"},
		call.WithConverter(Rows[user]()))
	require.NoError(t, env.Begin(context.Background(), false))
	env.Run()

	res := env.Result()
	require.Equal(t, call.StatusSuccess, res.Status(), "%v", res.Err())
	assert.Equal(t, []user{{1, "ada"}, {2, "grace"}}, res.Value())
	assert.Equal(t, "2", res.Payload().Meta[MetaRows])
}

func TestQueryLimit(t *testing.T) {
	payload, err := New(openFake(t), Statement{SQL: "SELECT users", Limit: 1}).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", payload.Meta[MetaRows])
	assert.JSONEq(t, `[{"id":1,"name":"ada"}]`, string(payload.Body))
}

func TestExec(t *testing.T) {
	payload, err := New(openFake(t), Statement{Mode: Exec, SQL: "UPDATE users"}).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3", payload.Meta[MetaAffected])
}

func TestQueryErrorIsBackendError(t *testing.T) {
	_, err := New(openFake(t), Statement{SQL: "garbage"}).Execute(context.Background())
	var be *call.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "query", be.Msg)
}

func TestAbortCancelsQuery(t *testing.T) {
	exec := New(openFake(t), Statement{SQL: "SELECT hang"})
	errCh := make(chan error, 1)
	go func() {
		_, err := exec.Execute(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	exec.Abort()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("query was not aborted")
	}
}
