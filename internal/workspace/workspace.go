package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	MaxReadBytes   = 64 * 1024
	maxListEntries = 2000
)

var (
	ErrInvalidPath   = errors.New("file_tool_invalid_path")
	ErrForbiddenPath = errors.New("file_tool_forbidden_path")
	ErrFileExists    = errors.New("file_tool_file_exists")
	ErrFileNotFound  = errors.New("file_tool_file_not_found")
	ErrPathRequired  = errors.New("file_tool_path_required")
	ErrIsDirectory   = errors.New("file_tool_path_is_directory")
)

const (
	ModeOverwrite = "overwrite"
	ModeAppend    = "append"
)

// Workspace is the directory tree that tools and the file API may touch.
type Workspace struct {
	root string
}

type Target struct {
	Absolute string
	Relative string
}

type FileInfo struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type Match struct {
	Path     string `json:"path"`
	Distance int    `json:"distance"`
}

func New(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, ErrPathRequired
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a workspace path into the root. A leading slash means the workspace root; paths that
// escape the root or name a host drive are rejected.
func (w *Workspace) Resolve(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, ErrPathRequired
	}
	raw = strings.TrimLeft(filepath.ToSlash(raw), "/")
	if raw == "" {
		return Target{}, ErrInvalidPath
	}
	if filepath.IsAbs(raw) || filepath.VolumeName(raw) != "" {
		return Target{}, ErrForbiddenPath
	}
	cleaned := filepath.Clean(filepath.FromSlash(raw))
	if cleaned == "." {
		return Target{}, ErrInvalidPath
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return Target{}, ErrForbiddenPath
	}
	absolute := filepath.Join(w.root, cleaned)
	rel, err := filepath.Rel(w.root, absolute)
	if err != nil {
		return Target{}, ErrInvalidPath
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Target{}, ErrForbiddenPath
	}
	return Target{Absolute: absolute, Relative: filepath.ToSlash(rel)}, nil
}

// Read returns at most MaxReadBytes of the file and whether it was truncated.
func (w *Workspace) Read(path string) (Target, []byte, int64, bool, error) {
	target, err := w.Resolve(path)
	if err != nil {
		return Target{}, nil, 0, false, err
	}
	info, err := os.Stat(target.Absolute)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return target, nil, 0, false, ErrFileNotFound
		}
		return target, nil, 0, false, err
	}
	if info.IsDir() {
		return target, nil, 0, false, ErrIsDirectory
	}
	payload, err := os.ReadFile(target.Absolute)
	if err != nil {
		return target, nil, 0, false, err
	}
	if len(payload) > MaxReadBytes {
		return target, payload[:MaxReadBytes], info.Size(), true, nil
	}
	return target, payload, info.Size(), false, nil
}

// Create writes a new file and fails with ErrFileExists when it is already present.
func (w *Workspace) Create(path string, content []byte) (Target, error) {
	target, err := w.Resolve(path)
	if err != nil {
		return Target{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target.Absolute), 0o755); err != nil {
		return target, err
	}
	file, err := os.OpenFile(target.Absolute, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return target, ErrFileExists
		}
		return target, err
	}
	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		return target, err
	}
	return target, file.Close()
}

// Update rewrites or appends to an existing file and returns the previous content.
func (w *Workspace) Update(path string, content []byte, mode string) (Target, []byte, error) {
	target, err := w.Resolve(path)
	if err != nil {
		return Target{}, nil, err
	}
	before, err := os.ReadFile(target.Absolute)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return target, nil, ErrFileNotFound
		}
		return target, nil, err
	}
	flags := os.O_WRONLY | os.O_TRUNC
	if mode == ModeAppend {
		flags = os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(target.Absolute, flags, 0)
	if err != nil {
		return target, nil, err
	}
	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		return target, nil, err
	}
	return target, before, file.Close()
}

// Put creates or replaces a file, creating parent directories.
func (w *Workspace) Put(path string, content []byte) (Target, error) {
	target, err := w.Resolve(path)
	if err != nil {
		return Target{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target.Absolute), 0o755); err != nil {
		return target, err
	}
	return target, os.WriteFile(target.Absolute, content, 0o644)
}

func (w *Workspace) Delete(path string) error {
	target, err := w.Resolve(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(target.Absolute)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrFileNotFound
		}
		return err
	}
	if info.IsDir() {
		return ErrIsDirectory
	}
	return os.Remove(target.Absolute)
}

// List walks dir (empty means the root) and returns regular files sorted by path. Dot-directories are skipped.
func (w *Workspace) List(dir string) ([]FileInfo, error) {
	start := w.root
	if strings.TrimSpace(dir) != "" {
		target, err := w.Resolve(dir)
		if err != nil {
			return nil, err
		}
		start = target.Absolute
	}
	out := []FileInfo{}
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == start {
				return ErrFileNotFound
			}
			return err
		}
		if d.IsDir() {
			if path != start && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(out) >= maxListEntries {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		out = append(out, FileInfo{
			Path:       filepath.ToSlash(rel),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Search ranks workspace paths against query with case-insensitive fuzzy matching.
func (w *Workspace) Search(query string, limit int) ([]Match, error) {
	files, err := w.List("")
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	ranks := fuzzy.RankFindNormalizedFold(strings.TrimSpace(query), paths)
	sort.Sort(ranks)
	if limit <= 0 || limit > len(ranks) {
		limit = len(ranks)
	}
	out := make([]Match, 0, limit)
	for _, rank := range ranks[:limit] {
		out = append(out, Match{Path: rank.Target, Distance: rank.Distance})
	}
	return out, nil
}
