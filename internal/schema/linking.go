package schema

import (
	"fmt"
	"sort"

	"github.com/datajoint/workflow-deeplabcut/internal/db"
)

// Table is a handle on an activated table.
type Table struct {
	Namespace string
	Name      string
	Dialect   db.Dialect
}

// Ident returns the quoted identifier to use in SQL.
func (t Table) Ident() string {
	return t.Dialect.Table(t.Namespace, t.Name)
}

func (t Table) String() string {
	return t.Namespace + "." + t.Name
}

// IsZero reports whether t refers to nothing.
func (t Table) IsZero() bool {
	return t.Namespace == "" && t.Name == ""
}

// Linking is the context passed from one activation to the next: the
// tables exported by modules activated so far and the directory lookups
// that downstream modules resolve data against.
type Linking struct {
	tables map[string]Table

	// RootDataDirs and ProcessedDataDir are published under the linking
	// names "RootDataDirs" and "ProcessedDataDir" when set.
	RootDataDirs     func() []string
	ProcessedDataDir func() (string, error)
}

// Linking names under which the directory lookups are published.
const (
	LinkRootDataDirs     = "RootDataDirs"
	LinkProcessedDataDir = "ProcessedDataDir"
)

// NewLinking returns an empty linking context.
func NewLinking() *Linking {
	return &Linking{tables: make(map[string]Table)}
}

// Set publishes t under name, replacing any earlier entry.
func (l *Linking) Set(name string, t Table) {
	l.tables[name] = t
}

// Table returns the table published under name.
func (l *Linking) Table(name string) (Table, bool) {
	t, ok := l.tables[name]
	return t, ok
}

// Has reports whether name is available, including the directory lookups.
func (l *Linking) Has(name string) bool {
	switch name {
	case LinkRootDataDirs:
		return l.RootDataDirs != nil
	case LinkProcessedDataDir:
		return l.ProcessedDataDir != nil
	}
	_, ok := l.tables[name]
	return ok
}

// Names returns the published table names in sorted order.
func (l *Linking) Names() []string {
	names := make([]string, 0, len(l.tables))
	for n := range l.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Require checks that every name is available.
func (l *Linking) Require(module string, names []string) error {
	var missing []string
	for _, n := range names {
		if !l.Has(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: module %s needs %v", ErrMissingLink, module, missing)
	}
	return nil
}
