package entity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	currentSchemaVersion = 1
	entitiesFileMode     = 0o600
	entitiesDirMode      = 0o755
	tempFilePattern      = ".entities-*.toml.tmp"
)

type fileSchema struct {
	Version      int           `toml:"version"`
	Employees    []Employee    `toml:"employees,omitempty"`
	Tasks        []Task        `toml:"tasks,omitempty"`
	Deliverables []Deliverable `toml:"deliverables,omitempty"`
	Memories     []Memory      `toml:"memories,omitempty"`
	Meetings     []Meeting     `toml:"meetings,omitempty"`
	Costs        []Cost        `toml:"costs,omitempty"`
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported entities schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	return nil
}

// OpenTOML loads the entity file at path (a missing file is an empty store)
// and returns a repository that rewrites the whole file atomically after every
// mutation.
func OpenTOML(path string, opts ...Option) (*Repository, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("entity: resolve path: %w", err)
	}
	file, err := readSchema(absPath)
	if err != nil {
		return nil, err
	}
	repo := newRepository(snapshot{
		Employees:    file.Employees,
		Tasks:        file.Tasks,
		Deliverables: file.Deliverables,
		Memories:     file.Memories,
		Meetings:     file.Meetings,
		Costs:        file.Costs,
	}, opts...)
	repo.persist = func(s snapshot) error {
		return writeSchema(absPath, fileSchema{
			Version:      currentSchemaVersion,
			Employees:    s.Employees,
			Tasks:        s.Tasks,
			Deliverables: s.Deliverables,
			Memories:     s.Memories,
			Meetings:     s.Meetings,
			Costs:        s.Costs,
		})
	}
	return repo, nil
}

func readSchema(path string) (fileSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{Version: currentSchemaVersion}, nil
		}
		return fileSchema{}, fmt.Errorf("entity: read %s: %w", path, err)
	}
	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("entity: decode %s: %w", path, err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	return file, nil
}

func writeSchema(path string, file fileSchema) error {
	if err := os.MkdirAll(filepath.Dir(path), entitiesDirMode); err != nil {
		return fmt.Errorf("create entities directory: %w", err)
	}
	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode entities file: %w", err)
	}
	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp entities file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp entities file: %w", err)
	}
	if err := tempFile.Chmod(entitiesFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp entities file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp entities file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace entities file: %w", err)
	}
	cleanup = false
	return nil
}
