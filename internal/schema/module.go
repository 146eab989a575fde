// Package schema activates element schema modules into prefixed database
// namespaces.
//
// A Module bundles versioned migration templates with the names it needs
// from, and contributes to, the linking context. Modules are applied in
// the order computed by Plan, which makes the dependency graph between
// them explicit instead of relying on call order.
package schema

import (
	"fmt"
	"io/fs"
	"regexp"
)

// Module describes one element schema.
type Module struct {
	// Name identifies the module, e.g. "subject". It also names the
	// module's migration history inside its namespace.
	Name string

	// Namespace is the suffix appended to the database prefix. Defaults to
	// Name. Modules that extend another schema (equipment lives in lab)
	// set it explicitly.
	Namespace string

	// DependsOn lists modules that must be activated first.
	DependsOn []string

	// Requires lists linking names that must be present before activation.
	Requires []string

	// Exports maps linking names to the table names this module creates.
	Exports map[string]string

	// Migrations holds NNNNNN_name.up.sql / .down.sql templates.
	Migrations fs.FS

	// Lookups are seeded after migrations apply. Existing rows are kept.
	Lookups []Lookup
}

// Lookup is a set of rows inserted into a table on activation.
type Lookup struct {
	Table   string
	Columns []string
	Rows    [][]any
}

// NamespaceSuffix returns the namespace suffix the module activates into.
func (m Module) NamespaceSuffix() string {
	if m.Namespace != "" {
		return m.Namespace
	}
	return m.Name
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// ValidatePrefix reports whether prefix can be used to build namespace
// names. Only letters, digits and underscores are accepted.
func ValidatePrefix(prefix string) error {
	if !identPattern.MatchString(prefix) {
		return fmt.Errorf("%w: %q may contain only letters, digits and underscores", ErrInvalidPrefix, prefix)
	}
	return nil
}

func (m Module) validate() error {
	if m.Name == "" || !identPattern.MatchString(m.Name) {
		return fmt.Errorf("invalid module name %q", m.Name)
	}
	if !identPattern.MatchString(m.NamespaceSuffix()) {
		return fmt.Errorf("module %s: invalid namespace %q", m.Name, m.NamespaceSuffix())
	}
	if m.Migrations == nil {
		return fmt.Errorf("module %s: no migrations", m.Name)
	}
	for _, l := range m.Lookups {
		for i, row := range l.Rows {
			if len(row) != len(l.Columns) {
				return fmt.Errorf("module %s: lookup %s row %d has %d values, want %d",
					m.Name, l.Table, i, len(row), len(l.Columns))
			}
		}
	}
	return nil
}
