// Package migrator applies versioned SQL schema migrations. Migrations are
// read from an fs.FS so they can be embedded into the binary.
package migrator

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema change
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	NoTransaction bool
	Dependencies  []int
}

var (
	filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerPattern = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
	dependsPattern  = regexp.MustCompile(`^--\s*\+migrate\s+Depends:(.*)$`)
)

// Parse builds a migration from a file name of the form NNN_name.sql and
// its contents. The contents must carry a "-- +migrate Up" marker,
// optionally followed by "-- +migrate Depends: N M" directives.
func Parse(filename string, content []byte) (*Migration, error) {
	base := path.Base(filename)
	matches := filenamePattern.FindStringSubmatch(base)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", base)
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	m := &Migration{Version: version, Name: matches[2]}
	lines := strings.Split(string(content), "\n")

	up := -1
	for i, line := range lines {
		if marker := upMarkerPattern.FindStringSubmatch(strings.TrimSpace(line)); marker != nil {
			up = i
			m.NoTransaction = strings.TrimSpace(marker[1]) == "notransaction"
			break
		}
	}
	if up < 0 {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", base)
	}

	// Directives and comments may sit between the marker and the first statement
	body := len(lines)
	for i := up + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if deps := dependsPattern.FindStringSubmatch(line); deps != nil {
			parsed, err := parseDependencies(deps[1])
			if err != nil {
				return nil, fmt.Errorf("%w in migration file: %s", err, base)
			}
			m.Dependencies = append(m.Dependencies, parsed...)
			continue
		}
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		body = i
		break
	}

	if body < len(lines) {
		m.UpSQL = strings.TrimSpace(strings.Join(lines[body:], "\n"))
	}
	if m.UpSQL == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", base)
	}
	return m, nil
}

func parseDependencies(list string) ([]int, error) {
	fields := strings.Fields(list)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty dependency list")
	}
	deps := make([]int, 0, len(fields))
	for _, f := range fields {
		dep, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency version '%s'", f)
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// ParseFile reads and parses one migration file from fsys
func ParseFile(fsys fs.FS, name string) (*Migration, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file: %w", err)
	}
	return Parse(name, content)
}

// LoadMigrations parses every NNN_name.sql file at the root of fsys and
// returns them sorted by version. Other files are ignored. The set must be
// gap free, free of duplicates, and its dependencies must exist and be
// acyclic.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	migrations := []Migration{}
	for _, entry := range entries {
		if entry.IsDir() || !filenamePattern.MatchString(entry.Name()) {
			continue
		}
		m, err := ParseFile(fsys, entry.Name())
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *m)
	}

	sort.SliceStable(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	if err := validate(migrations); err != nil {
		return nil, err
	}
	return migrations, nil
}

func validate(migrations []Migration) error {
	if err := detectCycle(migrations); err != nil {
		return err
	}

	versions := make(map[int]bool, len(migrations))
	for i, m := range migrations {
		if versions[m.Version] {
			return fmt.Errorf("duplicate migration version: %d", m.Version)
		}
		versions[m.Version] = true
		if m.Version != i+1 {
			return fmt.Errorf("gap in migration versions: expected %d, found %d", i+1, m.Version)
		}
	}

	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if !versions[dep] {
				return fmt.Errorf("migration %d depends on non-existent version %d", m.Version, dep)
			}
		}
	}
	return nil
}

// detectCycle walks the dependency graph depth first.
// 0 = unvisited, 1 = on the current path, 2 = done
func detectCycle(migrations []Migration) error {
	graph := make(map[int][]int, len(migrations))
	for _, m := range migrations {
		graph[m.Version] = m.Dependencies
	}

	color := make(map[int]int, len(migrations))
	var visit func(node int, trail []int) error
	visit = func(node int, trail []int) error {
		color[node] = 1
		trail = append(trail, node)
		for _, dep := range graph[node] {
			switch color[dep] {
			case 1:
				return fmt.Errorf("circular dependency detected: %v", append(trail, dep))
			case 0:
				if err := visit(dep, trail); err != nil {
					return err
				}
			}
		}
		color[node] = 2
		return nil
	}

	for _, m := range migrations {
		if color[m.Version] == 0 {
			if err := visit(m.Version, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
