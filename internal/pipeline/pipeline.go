// Package pipeline assembles the DeepLabCut workflow: it activates the
// element schemas under the configured prefix and re-exports the tables
// and directory lookups the rest of the workflow works against.
package pipeline

import (
	"context"
	"fmt"

	"github.com/datajoint/workflow-deeplabcut/internal/config"
	"github.com/datajoint/workflow-deeplabcut/internal/db"
	"github.com/datajoint/workflow-deeplabcut/internal/elements"
	"github.com/datajoint/workflow-deeplabcut/internal/fsutil"
	"github.com/datajoint/workflow-deeplabcut/internal/paths"
	"github.com/datajoint/workflow-deeplabcut/internal/schema"
)

// Modules returns the workflow's modules in activation order:
// lab, subject, session, equipment, train, model.
func Modules() []schema.Module {
	return []schema.Module{
		elements.Lab(),
		elements.Subject(),
		elements.Session(),
		Equipment(),
		elements.Train(),
		elements.Model(EquipmentModule),
	}
}

// RootDataDirs returns the raw-data root directories named in cfg.
func RootDataDirs(cfg *config.Config) []string { return paths.RootDataDirs(cfg) }

// ProcessedDataDir returns the directory processed output is written to.
func ProcessedDataDir(cfg *config.Config) (string, error) { return paths.ProcessedDataDir(cfg) }

// Pipeline is an activated workflow.
type Pipeline struct {
	Subject   schema.Table
	Source    schema.Table
	Lab       schema.Table
	Protocol  schema.Table
	User      schema.Table
	Project   schema.Table
	Session   schema.Table
	Equipment schema.Table

	// Experimenter is the same table as User.
	Experimenter schema.Table

	// Results holds one entry per module in activation order.
	Results []schema.Result

	db       *db.DB
	resolver *paths.Resolver
	runID    string
}

// Option adjusts how a Pipeline is built.
type Option func(*options)

type options struct {
	fsys fsutil.FileSystem
}

// WithFileSystem resolves data files against fsys instead of the host
// filesystem.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(o *options) { o.fsys = fsys }
}

func newActivator(cfg *config.Config, database *db.DB, opts []Option) (*schema.Activator, *paths.Resolver, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	resolver := paths.NewResolver(cfg, o.fsys)

	link := schema.NewLinking()
	link.RootDataDirs = resolver.RootDataDirs
	link.ProcessedDataDir = resolver.ProcessedDataDir

	act, err := schema.NewActivator(database, cfg.DatabasePrefix(), link)
	if err != nil {
		return nil, nil, err
	}
	return act, resolver, nil
}

// Activate activates every module under cfg's database prefix. It fails on
// the first module that cannot be activated.
func Activate(ctx context.Context, cfg *config.Config, database *db.DB, opts ...Option) (*Pipeline, error) {
	act, resolver, err := newActivator(cfg, database, opts)
	if err != nil {
		return nil, err
	}
	results, err := act.Activate(ctx, Modules())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Results:  results,
		db:       database,
		resolver: resolver,
		runID:    act.RunID(),
	}
	link := act.Linking()
	for name, dst := range map[string]*schema.Table{
		"Subject":   &p.Subject,
		"Source":    &p.Source,
		"Lab":       &p.Lab,
		"Protocol":  &p.Protocol,
		"User":      &p.User,
		"Project":   &p.Project,
		"Session":   &p.Session,
		"Equipment": &p.Equipment,
	} {
		t, ok := link.Table(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s was not exported", schema.ErrMissingLink, name)
		}
		*dst = t
	}
	p.Experimenter = p.User
	return p, nil
}

// RootDataDirs returns the raw-data root directories.
func (p *Pipeline) RootDataDirs() []string { return p.resolver.RootDataDirs() }

// ProcessedDataDir returns the processed output directory.
func (p *Pipeline) ProcessedDataDir() (string, error) { return p.resolver.ProcessedDataDir() }

// Resolver returns the directory resolver the pipeline was activated with.
func (p *Pipeline) Resolver() *paths.Resolver { return p.resolver }

// RunID identifies this activation in the activation log.
func (p *Pipeline) RunID() string { return p.runID }

// Status reports the migration version of every module without activating
// anything.
func Status(ctx context.Context, cfg *config.Config, database *db.DB) ([]schema.Result, error) {
	act, _, err := newActivator(cfg, database, nil)
	if err != nil {
		return nil, err
	}
	return act.Status(ctx, Modules())
}

// Drop rolls every module back in reverse activation order. Data in the
// dropped tables is lost.
func Drop(ctx context.Context, cfg *config.Config, database *db.DB) error {
	act, _, err := newActivator(cfg, database, nil)
	if err != nil {
		return err
	}
	return act.Deactivate(ctx, Modules())
}
