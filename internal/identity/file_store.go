package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"doc-collab/internal/models"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"
)

// FileStore keeps the guest identity in a YAML file inside the profile dir
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type profileFile struct {
	Identity models.Identity `yaml:"identity"`
}

func (s *FileStore) Load(ctx context.Context) (*models.Identity, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", s.path, err)
	}

	var p profileFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", s.path, err)
	}
	if p.Identity.ID == "" {
		return nil, nil
	}

	return &p.Identity, nil
}

func (s *FileStore) Save(ctx context.Context, identity models.Identity) error {
	data, err := yaml.Marshal(profileFile{Identity: identity})
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create profile dir: %w", err)
	}

	// Write-then-rename so a crash never leaves a half-written profile
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write profile %s: %w", s.path, err)
	}

	return nil
}
