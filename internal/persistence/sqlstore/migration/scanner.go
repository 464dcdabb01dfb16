package migration

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type fileScanner struct {
	pattern *regexp.Regexp
}

// NewFileScanner creates a FileScanner expecting {version}_{description}.sql names.
func NewFileScanner() FileScanner {
	return &fileScanner{pattern: regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)}
}

// ScanMigrations scans dir within fsys for migration files.
func (s *fileScanner) ScanMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, NewMigrationError("", dir, "read directory", err)
	}

	var migrations []Migration
	versions := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if err := s.ValidateFileName(entry.Name()); err != nil {
			return nil, NewMigrationError("", entry.Name(), "validate filename", err)
		}

		filePath := path.Join(dir, entry.Name())
		raw, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return nil, NewMigrationError("", filePath, "read file", err)
		}
		content := string(raw)
		if strings.TrimSpace(content) == "" {
			return nil, NewMigrationError("", filePath, "read file", fmt.Errorf("%w: file is empty", ErrInvalidMigrationFile))
		}

		matches := s.pattern.FindStringSubmatch(entry.Name())
		version := matches[1]
		if existing, dup := versions[version]; dup {
			return nil, NewMigrationError(version, entry.Name(), "check duplicates",
				fmt.Errorf("%w: version %s found in both %s and %s", ErrDuplicateVersion, version, existing, entry.Name()))
		}
		versions[version] = entry.Name()

		description := descriptionFromContent(content)
		if description == "" {
			description = strings.ReplaceAll(matches[2], "_", " ")
		}

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         content,
			FilePath:    filePath,
			Checksum:    fmt.Sprintf("%x", sha256.Sum256(raw)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		vi, _ := strconv.Atoi(migrations[i].Version)
		vj, _ := strconv.Atoi(migrations[j].Version)
		return vi < vj
	})
	return migrations, nil
}

// ValidateFileName checks if migration file follows naming convention.
func (s *fileScanner) ValidateFileName(filename string) error {
	matches := s.pattern.FindStringSubmatch(filename)
	if len(matches) != 3 {
		return fmt.Errorf("%w: filename '%s' does not match pattern '{version}_{description}.sql'", ErrInvalidMigrationFile, filename)
	}
	if _, err := strconv.Atoi(matches[1]); err != nil {
		return fmt.Errorf("%w: version '%s' in filename '%s' is not a valid number", ErrInvalidVersion, matches[1], filename)
	}
	return nil
}

// descriptionFromContent returns the "-- Description:" header of a migration, if any.
func descriptionFromContent(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		if strings.HasPrefix(line, "-- Description:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "-- Description:"))
		}
	}
	return ""
}
