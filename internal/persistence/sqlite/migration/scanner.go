package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.sql$`)

type fsScanner struct {
	fsys fs.FS
	dir  string
}

// NewScanner returns a Scanner reading *.sql files from dir inside fsys.
func NewScanner(fsys fs.FS, dir string) Scanner {
	return &fsScanner{fsys: fsys, dir: dir}
}

// ScanMigrations returns the migrations found in the directory ordered by version.
func (s *fsScanner) ScanMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(s.fsys, s.dir)
	if err != nil {
		return nil, NewMigrationError("", s.dir, "read directory", err)
	}

	seen := make(map[string]string)
	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		filePath := path.Join(s.dir, entry.Name())
		version, description, err := ParseFileName(entry.Name())
		if err != nil {
			return nil, NewMigrationError("", filePath, "parse file name", err)
		}
		if other, ok := seen[version]; ok {
			return nil, NewMigrationError(version, filePath, "scan", fmt.Errorf("%w: also in %s", ErrDuplicateVersion, other))
		}
		seen[version] = filePath

		content, err := fs.ReadFile(s.fsys, filePath)
		if err != nil {
			return nil, NewMigrationError(version, filePath, "read file", err)
		}
		if len(SplitStatements(string(content))) == 0 {
			return nil, NewMigrationError(version, filePath, "parse SQL", ErrEmptyMigration)
		}

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
			FilePath:    filePath,
			Checksum:    checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return versionNumber(migrations[i].Version) < versionNumber(migrations[j].Version)
	})

	return migrations, nil
}

// ParseFileName extracts version and description from a migration file name.
func ParseFileName(name string) (version, description string, err error) {
	matches := fileNamePattern.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidFileName, name)
	}
	return matches[1], strings.ReplaceAll(matches[2], "_", " "), nil
}

// SplitStatements splits SQL content into statements, dropping comment-only lines.
func SplitStatements(sql string) []string {
	var statements []string
	for _, stmt := range strings.Split(sql, ";") {
		lines := strings.Split(stmt, "\n")
		kept := lines[:0]
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			kept = append(kept, line)
		}
		if len(kept) > 0 {
			statements = append(statements, strings.Join(kept, "\n"))
		}
	}
	return statements
}

func versionNumber(version string) int {
	n, err := strconv.Atoi(version)
	if err != nil {
		return -1
	}
	return n
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
