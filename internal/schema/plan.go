package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPrefix   = errors.New("invalid database prefix")
	ErrUnknownModule   = errors.New("unknown module")
	ErrDuplicateModule = errors.New("duplicate module")
	ErrCycle           = errors.New("dependency cycle")
	ErrMissingLink     = errors.New("missing linking name")
)

// Plan orders modules so that every module follows its dependencies.
// Among modules whose dependencies are satisfied, declaration order wins,
// so a list that is already ordered comes back unchanged.
func Plan(modules []Module) ([]Module, error) {
	index := make(map[string]int, len(modules))
	for i, m := range modules {
		if err := m.validate(); err != nil {
			return nil, err
		}
		if _, dup := index[m.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name)
		}
		index[m.Name] = i
	}

	indegree := make([]int, len(modules))
	dependents := make([][]int, len(modules))
	for i, m := range modules {
		for _, dep := range m.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownModule, m.Name, dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ordered := make([]Module, 0, len(modules))
	done := make([]bool, len(modules))
	for len(ordered) < len(modules) {
		next := -1
		for i := range modules {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, m := range modules {
				if !done[i] {
					stuck = append(stuck, m.Name)
				}
			}
			return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(stuck, ", "))
		}
		done[next] = true
		ordered = append(ordered, modules[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return ordered, nil
}
