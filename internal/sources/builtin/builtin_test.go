package builtin_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officefloor/officefloor/internal/config"
	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/log"
	"github.com/officefloor/officefloor/internal/officefloor"
	"github.com/officefloor/officefloor/internal/sources/builtin"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

const shopFloor = `
teams:
  - name: workers
    type: worker-pool
    properties:
      size: "2"
offices:
  - name: SHOP
    managed_objects:
      - name: db
        type: sqlite
        properties:
          schema: CREATE TABLE IF NOT EXISTS orders (id INTEGER PRIMARY KEY, item TEXT NOT NULL)
    governances:
      - name: tx
        type: transaction
    functions:
      - name: order
        type: sql-exec
        team: workers
        objects: [db]
        governances: [tx]
        properties:
          query: INSERT INTO orders (item) VALUES (?)
        next: placed
      - name: placed
        type: log
        team: workers
        properties:
          message: order placed
          level: debug
      - name: doomed
        type: sql-exec
        team: workers
        objects: [db]
        governances: [tx]
        properties:
          query: INSERT INTO orders (item) VALUES (?)
        next: reject
      - name: reject
        type: fail
        team: workers
        governances: [tx]
        properties:
          kind: illegal-state
          message: out of stock
      - name: count
        type: sql-query
        team: workers
        objects: [db]
        properties:
          query: SELECT COUNT(*) AS n FROM orders
      - name: fanout
        type: flow
        team: workers
        flows:
          - key: audit
            function: placed
            strategy: sequential
          - key: notify
            function: placed
            strategy: parallel
      - name: explode
        type: fail
        team: workers
        properties:
          kind: stock
`

func openShop(t *testing.T) *officefloor.OfficeFloor {
	t.Helper()
	cfg, err := config.Parse([]byte(shopFloor))
	require.NoError(t, err)
	reg, err := builtin.NewRegistry()
	require.NoError(t, err)
	_, err = reg.Kinds().Register("stock", escalation.KindIllegalState, nil)
	require.NoError(t, err)
	f, err := officefloor.Open(context.Background(), cfg, officefloor.Options{Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f
}

func invoke(t *testing.T, f *officefloor.OfficeFloor, fn string, param any) execute.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := f.InvokeAndWait(ctx, "SHOP", fn, param)
	require.NoError(t, err)
	return out
}

func orders(t *testing.T, f *officefloor.OfficeFloor) int64 {
	t.Helper()
	out := invoke(t, f, "count", nil)
	require.NoError(t, out.Err)
	rows := out.Result.([]map[string]any)
	require.Len(t, rows, 1)
	return rows[0]["n"].(int64)
}

func TestTransactionCommitsWhenLeavingGovernance(t *testing.T) {
	t.Parallel()
	f := openShop(t)

	out := invoke(t, f, "order", "apple")
	require.NoError(t, out.Err)
	assert.Equal(t, int64(1), out.Result)
	assert.Equal(t, int64(1), orders(t, f))
}

func TestTransactionRollsBackOnEscalation(t *testing.T) {
	t.Parallel()
	f := openShop(t)

	out := invoke(t, f, "doomed", "pear")
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, escalation.ErrIllegalState)
	var failure *builtin.Failure
	require.True(t, errors.As(out.Err, &failure))
	assert.Equal(t, "out of stock", failure.Message)
	assert.Equal(t, int64(0), orders(t, f))
}

func TestFlowFunctionPassesParameter(t *testing.T) {
	t.Parallel()
	f := openShop(t)

	out := invoke(t, f, "fanout", "hello")
	require.NoError(t, out.Err)
	assert.Equal(t, "hello", out.Result)
}

func TestFailWithCustomKind(t *testing.T) {
	t.Parallel()
	f := openShop(t)

	out := invoke(t, f, "explode", nil)
	require.Error(t, out.Err)
	var failure *builtin.Failure
	require.True(t, errors.As(out.Err, &failure))
	assert.Equal(t, "stock", failure.EscalationKind())
	assert.Equal(t, "explode failed", failure.Error())
}

func TestRegisterTwiceFails(t *testing.T) {
	t.Parallel()
	reg, err := builtin.NewRegistry()
	require.NoError(t, err)
	assert.Error(t, builtin.Register(reg))

	types := reg.Types()
	assert.Contains(t, types["function"], builtin.TypeSQLExec)
	assert.Contains(t, types["managed_object"], "timer")
	assert.Contains(t, types["managed_object"], "workspace")
	assert.Contains(t, types["governance"], "transaction")
}

func TestFileWriteStoresParameterInWorkspace(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
teams:
  - name: workers
    type: one-thread
offices:
  - name: SHOP
    managed_objects:
      - name: scratch
        type: workspace
        properties:
          base_dir: %s
          retain: "true"
    functions:
      - name: save
        type: file-write
        team: workers
        objects: [scratch]
        properties:
          name: order.json
      - name: misuse
        type: file-write
        team: workers
`, base)))
	require.NoError(t, err)
	reg, err := builtin.NewRegistry()
	require.NoError(t, err)

	_, err = officefloor.Open(context.Background(), cfg, officefloor.Options{Registry: reg})
	require.Error(t, err, "file-write without a workspace must not compile")

	cfg.Offices[0].Functions = cfg.Offices[0].Functions[:1]
	f, err := officefloor.Open(context.Background(), cfg, officefloor.Options{Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close(context.Background()) })

	out := invoke(t, f, "save", map[string]any{"item": "apple"})
	require.NoError(t, out.Err)
	path := out.Result.(string)
	assert.Equal(t, base, filepath.Dir(filepath.Dir(path)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"item":"apple"}`, string(data))
}
