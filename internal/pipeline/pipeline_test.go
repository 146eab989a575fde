package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datajoint/workflow-deeplabcut/internal/config"
	"github.com/datajoint/workflow-deeplabcut/internal/db"
	"github.com/datajoint/workflow-deeplabcut/internal/fsutil"
	"github.com/datajoint/workflow-deeplabcut/internal/monitoring"
	"github.com/datajoint/workflow-deeplabcut/internal/paths"
	"github.com/datajoint/workflow-deeplabcut/internal/schema"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func testConfig(prefix string) *config.Config {
	return config.New(map[string]any{
		"custom": map[string]any{
			"database.prefix":   prefix,
			"dlc_root_data_dir": []any{"/data/raw", "/data/archive"},
		},
	})
}

var wantOrder = []string{"lab", "subject", "session", "equipment", "train", "model"}

func moduleNames(results []schema.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Module
	}
	return out
}

func TestModulesOrder(t *testing.T) {
	ordered, err := schema.Plan(Modules())
	require.NoError(t, err)
	var got []string
	for _, m := range ordered {
		got = append(got, m.Name)
	}
	if diff := cmp.Diff(wantOrder, got); diff != "" {
		t.Errorf("activation order mismatch (-want +got):\n%s", diff)
	}
}

func TestActivate(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	p, err := Activate(ctx, testConfig("dlc_"), database)
	require.NoError(t, err)

	assert.Equal(t, wantOrder, moduleNames(p.Results))
	for _, r := range p.Results {
		assert.True(t, r.Applied, r.Module)
		assert.NotZero(t, r.Version, r.Module)
	}
	assert.NotEmpty(t, p.RunID())

	assert.Equal(t, "dlc_subject.subject", p.Subject.String())
	assert.Equal(t, "dlc_lab.source", p.Source.String())
	assert.Equal(t, "dlc_lab.lab", p.Lab.String())
	assert.Equal(t, "dlc_lab.protocol", p.Protocol.String())
	assert.Equal(t, "dlc_lab.user", p.User.String())
	assert.Equal(t, "dlc_lab.project", p.Project.String())
	assert.Equal(t, "dlc_session.session", p.Session.String())
	assert.Equal(t, "dlc_lab.equipment", p.Equipment.String())
	assert.Equal(t, p.User, p.Experimenter)
}

func TestActivateSeedsEquipment(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	p, err := Activate(ctx, testConfig("dlc_"), database)
	require.NoError(t, err)

	rows, err := p.ListEquipment(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultEquipment, rows); diff != "" {
		t.Errorf("equipment mismatch (-want +got):\n%s", diff)
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg := testConfig("dlc_")

	_, err := Activate(ctx, cfg, database)
	require.NoError(t, err)

	p, err := Activate(ctx, cfg, database)
	require.NoError(t, err)
	for _, r := range p.Results {
		assert.False(t, r.Applied, r.Module)
		assert.Zero(t, r.Seeded, r.Module)
	}

	rows, err := p.ListEquipment(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	log, err := database.Activations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, log, 2*len(wantOrder))
}

func TestActivatePrefixesEveryNamespace(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	p, err := Activate(ctx, testConfig("lab42_"), database)
	require.NoError(t, err)

	for _, r := range p.Results {
		suffix := r.Module
		if r.Module == EquipmentModule {
			suffix = "lab"
		}
		assert.Equal(t, "lab42_"+suffix, r.Namespace)
	}

	namespaces, err := database.Namespaces(ctx, "lab42_")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"lab42_lab", "lab42_subject", "lab42_session", "lab42_train", "lab42_model"},
		namespaces)
}

func TestActivateSeparatePrefixesCoexist(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := Activate(ctx, testConfig("a_"), database)
	require.NoError(t, err)
	p, err := Activate(ctx, testConfig("b_"), database)
	require.NoError(t, err)
	for _, r := range p.Results {
		assert.True(t, r.Applied, r.Module)
	}
}

func TestActivateRejectsBadPrefix(t *testing.T) {
	database := setupTestDB(t)
	_, err := Activate(context.Background(), testConfig("dlc-; DROP"), database)
	assert.ErrorIs(t, err, schema.ErrInvalidPrefix)
}

func TestActivateWithoutPrefix(t *testing.T) {
	database := setupTestDB(t)
	p, err := Activate(context.Background(), config.Default(), database)
	require.NoError(t, err)
	assert.Equal(t, "lab", p.Lab.Namespace)
}

func TestPipelineDirectories(t *testing.T) {
	database := setupTestDB(t)
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("/data/archive/s1/video.mp4", []byte("x"), 0o644))

	p, err := Activate(context.Background(), testConfig("dlc_"), database, WithFileSystem(fsys))
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/raw", "/data/archive"}, p.RootDataDirs())
	dir, err := p.ProcessedDataDir()
	require.NoError(t, err)
	assert.Equal(t, "/data/raw", dir)

	full, err := p.Resolver().FindFullPath("s1/video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "/data/archive/s1/video.mp4", full)
}

func TestPackageDirectoryHelpers(t *testing.T) {
	cfg := config.New(map[string]any{
		"custom": map[string]any{
			"dlc_root_data_dir": "/only/root",
			"dlc_output_dir":    "/out",
		},
	})
	assert.Equal(t, []string{"/only/root"}, RootDataDirs(cfg))
	dir, err := ProcessedDataDir(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/out", dir)

	_, err = ProcessedDataDir(config.Default())
	assert.ErrorIs(t, err, paths.ErrConfigIncomplete)
}

func TestStatusAndDrop(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	cfg := testConfig("dlc_")

	before, err := Status(ctx, cfg, database)
	require.NoError(t, err)
	for _, r := range before {
		assert.False(t, r.Applied, r.Module)
	}

	_, err = Activate(ctx, cfg, database)
	require.NoError(t, err)

	after, err := Status(ctx, cfg, database)
	require.NoError(t, err)
	assert.Equal(t, wantOrder, moduleNames(after))
	for _, r := range after {
		assert.True(t, r.Applied, r.Module)
	}

	require.NoError(t, Drop(ctx, cfg, database))
	ok, err := database.TableExists(ctx, "dlc_lab", "equipment")
	require.NoError(t, err)
	assert.False(t, ok)

	dropped, err := Status(ctx, cfg, database)
	require.NoError(t, err)
	for _, r := range dropped {
		assert.False(t, r.Applied, r.Module)
	}

	// Activation works again after a drop.
	p, err := Activate(ctx, cfg, database)
	require.NoError(t, err)
	rows, err := p.ListEquipment(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
