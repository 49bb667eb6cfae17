package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"gopkg.in/yaml.v3"

	"workloop/internal/plan"
)

const fileExt = ".yaml"

// File stores each plan as <dir>/<id>.yaml.
type File struct {
	dir string
}

// NewFile creates a File store rooted at dir, creating the directory if needed.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		dir = ".workloop/plans"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, serr.Wrap(err, "failed to create plan directory")
	}
	return &File{dir: dir}, nil
}

// Dir returns the directory plans are written to.
func (f *File) Dir() string {
	return f.dir
}

func (f *File) path(id string) string {
	return filepath.Join(f.dir, id+fileExt)
}

// Save writes the plan atomically (write to temp, then rename).
func (f *File) Save(ctx context.Context, p *plan.Plan) error {
	if err := validID(p.ID); err != nil {
		return err
	}

	fullPath := f.path(p.ID)
	if cur, err := f.read(fullPath); err == nil && stale(cur.UpdatedAt, p.UpdatedAt) {
		logger.Debug("skipping stale plan write", "plan_id", p.ID)
		return nil
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return serr.Wrap(err, "failed to marshal plan")
	}

	tmpPath := fullPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return serr.Wrap(err, "failed to write plan")
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return serr.Wrap(err, "failed to write plan")
	}
	return nil
}

func (f *File) Load(ctx context.Context, id string) (*plan.Plan, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	p, err := f.read(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(id)
	}
	return p, err
}

func (f *File) read(path string) (*plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, serr.Wrap(err, "failed to read plan")
	}
	var p plan.Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, serr.Wrap(err, "failed to parse plan")
	}
	return &p, nil
}

func (f *File) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list plans")
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *File) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := os.Remove(f.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(id)
		}
		return serr.Wrap(err, "failed to delete plan")
	}
	return nil
}
