package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/datajoint/workflow-deeplabcut/internal/db"
	"github.com/datajoint/workflow-deeplabcut/internal/monitoring"
)

// Result reports the outcome of activating one module.
type Result struct {
	Module    string
	Namespace string
	Version   uint
	// Applied is false when Activate found the namespace already current.
	// From Status it reports whether the module has been activated at all.
	Applied bool
	Seeded  int // lookup rows inserted
}

// Activator applies modules into namespaces named prefix+suffix.
type Activator struct {
	db     *db.DB
	prefix string
	link   *Linking
	runID  string
	logf   func(format string, v ...interface{})
}

// NewActivator validates prefix and returns an Activator publishing into
// link. A nil link starts from an empty context.
func NewActivator(database *db.DB, prefix string, link *Linking) (*Activator, error) {
	if database == nil {
		return nil, fmt.Errorf("activator needs a database")
	}
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}
	if link == nil {
		link = NewLinking()
	}
	return &Activator{
		db:     database,
		prefix: prefix,
		link:   link,
		runID:  db.NewRunID(),
		logf:   monitoring.Prefixed("activate"),
	}, nil
}

// Linking returns the context the activator publishes into.
func (a *Activator) Linking() *Linking { return a.link }

// RunID identifies this activator's rows in the activation log.
func (a *Activator) RunID() string { return a.runID }

// Namespace returns the full namespace for m.
func (a *Activator) Namespace(m Module) string {
	return a.prefix + m.NamespaceSuffix()
}

// Activate plans modules and activates each in turn. It stops at the
// first failure; modules already activated stay activated.
func (a *Activator) Activate(ctx context.Context, modules []Module) ([]Result, error) {
	ordered, err := Plan(modules)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(ordered))
	for _, m := range ordered {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := a.ActivateModule(ctx, m)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ActivateModule activates a single module. Its required linking names
// must already be published.
func (a *Activator) ActivateModule(ctx context.Context, m Module) (Result, error) {
	if err := m.validate(); err != nil {
		return Result{}, err
	}
	ns := a.Namespace(m)
	res := Result{Module: m.Name, Namespace: ns}

	if err := a.link.Require(m.Name, m.Requires); err != nil {
		return res, err
	}

	src, err := Render(m, ns, a.db.Dialect, a.link)
	if err != nil {
		return res, err
	}

	set := db.MigrationSet{Namespace: ns, Module: m.Name}
	applied, err := a.db.MigrateUp(set, src)
	if err != nil {
		return res, fmt.Errorf("activate %s into %s: %w", m.Name, ns, err)
	}
	res.Applied = applied

	version, dirty, err := a.db.MigrateVersion(set, src)
	if err != nil {
		return res, fmt.Errorf("activate %s into %s: %w", m.Name, ns, err)
	}
	if dirty {
		return res, fmt.Errorf("activate %s into %s: namespace is dirty at version %d", m.Name, ns, version)
	}
	res.Version = version

	for _, l := range m.Lookups {
		n, err := a.seed(ctx, ns, l)
		if err != nil {
			return res, fmt.Errorf("activate %s into %s: %w", m.Name, ns, err)
		}
		res.Seeded += n
	}

	for name, table := range m.Exports {
		a.link.Set(name, Table{Namespace: ns, Name: table, Dialect: a.db.Dialect})
	}

	if err := a.db.RecordActivation(ctx, &db.Activation{
		RunID:     a.runID,
		Module:    m.Name,
		Namespace: ns,
		Version:   version,
		Applied:   applied,
	}); err != nil {
		return res, err
	}

	a.logf("%s -> %s (version %d, applied=%v, seeded=%d)", m.Name, ns, version, applied, res.Seeded)
	return res, nil
}

// seed inserts lookup rows, leaving rows whose key already exists.
func (a *Activator) seed(ctx context.Context, ns string, l Lookup) (int, error) {
	if len(l.Rows) == 0 {
		return 0, nil
	}
	d := a.db.Dialect
	cols := make([]string, len(l.Columns))
	marks := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		cols[i] = db.QuoteIdent(c)
		marks[i] = d.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		d.Table(ns, l.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, row := range l.Rows {
		r, err := tx.ExecContext(ctx, stmt, row...)
		if err != nil {
			return 0, fmt.Errorf("seed %s: %w", l.Table, err)
		}
		if n, err := r.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Deactivate rolls back modules in reverse plan order, dropping their
// tables. The activation log is kept.
func (a *Activator) Deactivate(ctx context.Context, modules []Module) error {
	ordered, err := Plan(modules)
	if err != nil {
		return err
	}
	// Rendering down migrations still needs the links, so publish exports
	// up front.
	for _, m := range ordered {
		for name, table := range m.Exports {
			if !a.link.Has(name) {
				a.link.Set(name, Table{Namespace: a.Namespace(m), Name: table, Dialect: a.db.Dialect})
			}
		}
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := ordered[i]
		ns := a.Namespace(m)
		src, err := Render(m, ns, a.db.Dialect, a.link)
		if err != nil {
			return err
		}
		if err := a.db.MigrateDown(db.MigrationSet{Namespace: ns, Module: m.Name}, src); err != nil {
			return fmt.Errorf("deactivate %s in %s: %w", m.Name, ns, err)
		}
		a.logf("%s dropped from %s", m.Name, ns)
	}
	return nil
}

// Status reports the applied version of each module without changing
// anything.
func (a *Activator) Status(ctx context.Context, modules []Module) ([]Result, error) {
	ordered, err := Plan(modules)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(ordered))
	for _, m := range ordered {
		ns := a.Namespace(m)
		v, dirty, ok, err := a.db.HistoryVersion(ctx, db.MigrationSet{Namespace: ns, Module: m.Name})
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", m.Name, err)
		}
		if dirty {
			return nil, fmt.Errorf("status of %s: namespace %s is dirty at version %d", m.Name, ns, v)
		}
		out = append(out, Result{Module: m.Name, Namespace: ns, Version: v, Applied: ok})
	}
	return out, nil
}
