package schema

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datajoint/workflow-deeplabcut/internal/db"
	"github.com/datajoint/workflow-deeplabcut/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func migrations(files map[string]string) fstest.MapFS {
	out := fstest.MapFS{}
	for name, body := range files {
		out[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return out
}

// A two-module graph shaped like lab -> subject.
func parentModule() Module {
	return Module{
		Name:    "parent",
		Exports: map[string]string{"Parent": "parent"},
		Migrations: migrations(map[string]string{
			"000001_parent.up.sql":   `CREATE TABLE {{table "parent"}} (parent VARCHAR(32) NOT NULL PRIMARY KEY, label VARCHAR(64));`,
			"000001_parent.down.sql": `DROP TABLE {{table "parent"}};`,
		}),
		Lookups: []Lookup{{
			Table:   "parent",
			Columns: []string{"parent", "label"},
			Rows:    [][]any{{"p1", "first"}, {"p2", "second"}},
		}},
	}
}

func childModule() Module {
	return Module{
		Name:      "child",
		DependsOn: []string{"parent"},
		Requires:  []string{"Parent"},
		Exports:   map[string]string{"Child": "child"},
		Migrations: migrations(map[string]string{
			"000001_child.up.sql": `CREATE TABLE {{table "child"}} (
				child  VARCHAR(32) NOT NULL PRIMARY KEY,
				parent VARCHAR(32) NOT NULL REFERENCES {{ref "Parent"}}(parent)
			);`,
			"000001_child.down.sql": `DROP TABLE {{table "child"}};`,
		}),
	}
}

func names(ms []Module) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

func stub(name string, deps ...string) Module {
	return Module{Name: name, DependsOn: deps, Migrations: fstest.MapFS{}}
}

func TestPlan_KeepsDeclarationOrder(t *testing.T) {
	ordered, err := Plan([]Module{
		stub("lab"),
		stub("subject", "lab"),
		stub("session", "subject"),
		stub("equipment", "lab"),
		stub("train", "session"),
		stub("model", "train", "equipment"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"lab", "subject", "session", "equipment", "train", "model"}, names(ordered))
}

func TestPlan_ReordersDependencies(t *testing.T) {
	ordered, err := Plan([]Module{
		stub("model", "train"),
		stub("train", "session"),
		stub("session"),
		stub("other"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"session", "train", "model", "other"}, names(ordered))
}

func TestPlan_Errors(t *testing.T) {
	_, err := Plan([]Module{stub("a", "b"), stub("b", "a")})
	assert.True(t, errors.Is(err, ErrCycle), "got %v", err)

	_, err = Plan([]Module{stub("a", "missing")})
	assert.True(t, errors.Is(err, ErrUnknownModule), "got %v", err)

	_, err = Plan([]Module{stub("a"), stub("a")})
	assert.True(t, errors.Is(err, ErrDuplicateModule), "got %v", err)

	_, err = Plan([]Module{{Name: "no-migrations"}})
	assert.Error(t, err)

	bad := stub("bad")
	bad.Lookups = []Lookup{{Table: "t", Columns: []string{"a", "b"}, Rows: [][]any{{"only-one"}}}}
	_, err = Plan([]Module{bad})
	assert.Error(t, err)
}

func TestValidatePrefix(t *testing.T) {
	for _, ok := range []string{"", "dlc_", "Lab2_"} {
		assert.NoError(t, ValidatePrefix(ok), ok)
	}
	for _, bad := range []string{"dlc-", "a b", `x"`, "semi;"} {
		assert.True(t, errors.Is(ValidatePrefix(bad), ErrInvalidPrefix), bad)
	}
}

func TestLinking(t *testing.T) {
	link := NewLinking()
	assert.False(t, link.Has("Lab"))
	assert.False(t, link.Has(LinkRootDataDirs))

	link.Set("Lab", Table{Namespace: "dlc_lab", Name: "lab", Dialect: db.SQLite})
	link.RootDataDirs = func() []string { return nil }

	assert.True(t, link.Has("Lab"))
	assert.True(t, link.Has(LinkRootDataDirs))
	assert.Equal(t, []string{"Lab"}, link.Names())

	err := link.Require("model", []string{"Lab", LinkRootDataDirs, LinkProcessedDataDir, "Session"})
	require.True(t, errors.Is(err, ErrMissingLink))
	assert.Contains(t, err.Error(), "ProcessedDataDir")
	assert.Contains(t, err.Error(), "Session")

	tbl, ok := link.Table("Lab")
	require.True(t, ok)
	assert.Equal(t, `"dlc_lab__lab"`, tbl.Ident())
	assert.Equal(t, "dlc_lab.lab", tbl.String())
	assert.False(t, tbl.IsZero())
	assert.True(t, Table{}.IsZero())
}

func TestRender(t *testing.T) {
	link := NewLinking()
	link.Set("Parent", Table{Namespace: "x_parent", Name: "parent", Dialect: db.Postgres})

	src, err := Render(childModule(), "x_child", db.Postgres, link)
	require.NoError(t, err)

	up, err := fs.ReadFile(src, "000001_child.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), `CREATE TABLE "x_child"."child"`)
	assert.Contains(t, string(up), `REFERENCES "x_parent"."parent"(parent)`)

	_, err = Render(childModule(), "x_child", db.Postgres, NewLinking())
	assert.Error(t, err)

	broken := stub("broken")
	broken.Migrations = migrations(map[string]string{"000001_b.up.sql": `{{table`})
	_, err = Render(broken, "ns", db.SQLite, link)
	assert.Error(t, err)

	_, err = Render(stub("empty"), "ns", db.SQLite, link)
	assert.Error(t, err)
}

func TestActivate_OrderLinksAndSeeds(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	act, err := NewActivator(database, "t_", nil)
	require.NoError(t, err)

	// Declared out of order on purpose.
	results, err := act.Activate(ctx, []Module{childModule(), parentModule()})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, Result{Module: "parent", Namespace: "t_parent", Version: 1, Applied: true, Seeded: 2}, results[0])
	assert.Equal(t, Result{Module: "child", Namespace: "t_child", Version: 1, Applied: true}, results[1])

	child, ok := act.Linking().Table("Child")
	require.True(t, ok)
	assert.Equal(t, "t_child", child.Namespace)

	exists, err := database.TableExists(ctx, "t_child", "child")
	require.NoError(t, err)
	assert.True(t, exists)

	// Foreign keys point across namespaces.
	_, err = database.Exec(`INSERT INTO "t_child__child" (child, parent) VALUES ('c1', 'p1')`)
	require.NoError(t, err)
	_, err = database.Exec(`INSERT INTO "t_child__child" (child, parent) VALUES ('c2', 'nope')`)
	assert.Error(t, err)

	log, err := database.Activations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	for _, row := range log {
		assert.Equal(t, act.RunID(), row.RunID)
	}
}

func TestActivate_Idempotent(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	modules := []Module{parentModule(), childModule()}

	first, err := NewActivator(database, "t_", nil)
	require.NoError(t, err)
	_, err = first.Activate(ctx, modules)
	require.NoError(t, err)

	second, err := NewActivator(database, "t_", nil)
	require.NoError(t, err)
	results, err := second.Activate(ctx, modules)
	require.NoError(t, err)

	for _, r := range results {
		assert.False(t, r.Applied, r.Module)
		assert.Zero(t, r.Seeded, r.Module)
		assert.Equal(t, uint(1), r.Version, r.Module)
	}

	var count int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM "t_parent__parent"`).Scan(&count))
	assert.Equal(t, 2, count)

	assert.NotEqual(t, first.RunID(), second.RunID())
}

func TestActivate_PrefixesIsolate(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	for _, prefix := range []string{"a_", "b_"} {
		act, err := NewActivator(database, prefix, nil)
		require.NoError(t, err)
		_, err = act.Activate(ctx, []Module{parentModule(), childModule()})
		require.NoError(t, err)
	}

	namespaces, err := database.Namespaces(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_child", "a_parent", "b_child", "b_parent"}, namespaces)
}

func TestActivateModule_MissingLink(t *testing.T) {
	database := setupTestDB(t)
	act, err := NewActivator(database, "t_", nil)
	require.NoError(t, err)

	_, err = act.ActivateModule(context.Background(), childModule())
	assert.True(t, errors.Is(err, ErrMissingLink), "got %v", err)

	exists, err := database.TableExists(context.Background(), "t_child", "child")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestActivate_StopsAtFirstFailure(t *testing.T) {
	database := setupTestDB(t)
	broken := childModule()
	broken.Migrations = migrations(map[string]string{
		"000001_child.up.sql":   `CREATE TABLE {{table "child"}} (;`,
		"000001_child.down.sql": `SELECT 1;`,
	})

	act, err := NewActivator(database, "t_", nil)
	require.NoError(t, err)
	results, err := act.Activate(context.Background(), []Module{parentModule(), broken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "t_child")

	// Parent stays activated.
	require.Len(t, results, 1)
	assert.Equal(t, "parent", results[0].Module)
}

func TestActivate_CanceledContext(t *testing.T) {
	database := setupTestDB(t)
	act, err := NewActivator(database, "t_", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = act.Activate(ctx, []Module{parentModule()})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewActivator_Errors(t *testing.T) {
	_, err := NewActivator(nil, "", nil)
	assert.Error(t, err)

	database := setupTestDB(t)
	_, err = NewActivator(database, "bad-prefix", nil)
	assert.True(t, errors.Is(err, ErrInvalidPrefix))
}

func TestStatusAndDeactivate(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	modules := []Module{parentModule(), childModule()}

	act, err := NewActivator(database, "t_", nil)
	require.NoError(t, err)

	status, err := act.Status(ctx, modules)
	require.NoError(t, err)
	for _, s := range status {
		assert.False(t, s.Applied, s.Module)
	}

	_, err = act.Activate(ctx, modules)
	require.NoError(t, err)

	status, err = act.Status(ctx, modules)
	require.NoError(t, err)
	for _, s := range status {
		assert.True(t, s.Applied, s.Module)
		assert.Equal(t, uint(1), s.Version, s.Module)
	}

	fresh, err := NewActivator(database, "t_", nil)
	require.NoError(t, err)
	require.NoError(t, fresh.Deactivate(ctx, modules))

	for _, tbl := range [][2]string{{"t_parent", "parent"}, {"t_child", "child"}} {
		exists, err := database.TableExists(ctx, tbl[0], tbl[1])
		require.NoError(t, err)
		assert.False(t, exists, tbl[1])
	}
}
