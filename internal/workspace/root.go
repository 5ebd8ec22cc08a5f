package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PubspecFile marks the root of a Dart package.
const PubspecFile = "pubspec.yaml"

// Pubspec is the subset of pubspec.yaml used to label roots.
type Pubspec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	Environment struct {
		SDK     string `yaml:"sdk"`
		Flutter string `yaml:"flutter"`
	} `yaml:"environment"`
}

// FindRoot returns the analysis root for file: the nearest enclosing
// directory holding a pubspec.yaml, or the file's own directory when there
// is none. The filesystem root itself is never chosen.
func FindRoot(file string) string {
	start := filepath.Dir(filepath.Clean(file))

	dir := start
	for {
		if isRootDir(dir) {
			return start
		}
		if fileExists(filepath.Join(dir, PubspecFile)) {
			return dir
		}
		dir = filepath.Dir(dir)
	}
}

// ProjectRoot is FindRoot for a directory: dir itself counts.
func ProjectRoot(dir string) string {
	return FindRoot(filepath.Join(dir, PubspecFile))
}

// isRootDir reports whether dir is a filesystem root or the empty relative
// root.
func isRootDir(dir string) bool {
	return dir == "." || dir == "" || filepath.Dir(dir) == dir
}

// ReadPubspec parses dir/pubspec.yaml.
func ReadPubspec(dir string) (*Pubspec, error) {
	data, err := os.ReadFile(filepath.Join(dir, PubspecFile))
	if err != nil {
		return nil, err
	}

	var p Pubspec
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Join(dir, PubspecFile), err)
	}
	return &p, nil
}

// AbsFile joins a possibly relative buffer name onto cwd.
func AbsFile(cwd, name string) (string, error) {
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	if cwd == "" {
		return filepath.Abs(name)
	}
	return filepath.Join(cwd, name), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
