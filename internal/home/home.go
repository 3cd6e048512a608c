package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the pagetailor home directory.
	DefaultDirName = ".pagetailor"

	// ProjectsDirName is the subdirectory for saved projects.
	ProjectsDirName = "projects"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// ProjectExt is the file extension of saved projects.
	ProjectExt = ".pagetailor.yaml"
)

// Dir represents the pagetailor home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.pagetailor).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// ProjectsDir returns the directory projects are saved to by default.
func (d *Dir) ProjectsDir() string {
	return filepath.Join(d.path, ProjectsDirName)
}

// ProjectPath returns the default project file for a named project.
func (d *Dir) ProjectPath(name string) string {
	return filepath.Join(d.ProjectsDir(), name+ProjectExt)
}

// OutputDir returns the default output directory for a named project.
func (d *Dir) OutputDir(name string) string {
	return filepath.Join(d.path, "output", name)
}

// DebugDir returns where debug images of a project are written.
func (d *Dir) DebugDir(name string) string {
	return filepath.Join(d.path, "debug", name)
}

// RasterDir returns where pages rendered from imported PDFs are kept.
func (d *Dir) RasterDir(name string) string {
	return filepath.Join(d.path, "raster", name)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.ProjectsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create projects directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// ProjectName derives a project name from a scan directory or PDF path.
func ProjectName(source string) string {
	base := filepath.Base(filepath.Clean(source))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "project"
	}
	return base
}
