package schema

import (
	"bytes"
	"fmt"
	"io/fs"
	"strings"
	"testing/fstest"
	"text/template"

	"github.com/datajoint/workflow-deeplabcut/internal/db"
)

// Render expands the migration templates of m for namespace ns.
//
// Templates see three functions:
//
//	{{table "name"}}   quoted identifier of a table in ns
//	{{ref "Name"}}     quoted identifier of a table from the linking context
//	{{namespace}}      ns itself
//
// Files that are not migrations are dropped.
func Render(m Module, ns string, d db.Dialect, link *Linking) (fs.FS, error) {
	funcs := template.FuncMap{
		"table": func(name string) string {
			return d.Table(ns, name)
		},
		"ref": func(name string) (string, error) {
			t, ok := link.Table(name)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrMissingLink, name)
			}
			return t.Ident(), nil
		},
		"namespace": func() string { return ns },
	}

	entries, err := fs.ReadDir(m.Migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("module %s: failed to list migrations: %w", m.Name, err)
	}

	out := fstest.MapFS{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		raw, err := fs.ReadFile(m.Migrations, name)
		if err != nil {
			return nil, fmt.Errorf("module %s: failed to read %s: %w", m.Name, name, err)
		}
		tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("module %s: failed to parse %s: %w", m.Name, name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, nil); err != nil {
			return nil, fmt.Errorf("module %s: failed to render %s: %w", m.Name, name, err)
		}
		out[name] = &fstest.MapFile{Data: buf.Bytes(), Mode: 0o444}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("module %s: no migration files", m.Name)
	}
	return out, nil
}
