package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Artifact file names inside the output directory.
const (
	BugReportFile    = "bug-report.md"
	PatchFile        = "patch.diff"
	SnapshotFile     = "snapshot.json"
	fallbackSpecName = "generated.spec.ts"
)

// Artifacts writes exported results to a directory.
type Artifacts struct {
	dir string
}

// NewArtifacts creates an Artifacts writer rooted at dir. The directory is
// created on first write.
func NewArtifacts(dir string) *Artifacts {
	return &Artifacts{dir: dir}
}

// Dir returns the output directory.
func (a *Artifacts) Dir() string {
	return a.dir
}

// Write stores every result present in s plus the snapshot itself and
// returns the paths written, snapshot last.
func (a *Artifacts) Write(s Snapshot) ([]string, error) {
	var written []string
	put := func(name string, data []byte) error {
		path := filepath.Join(a.dir, name)
		if err := WriteAtomic(path, data); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if s.Data.BugReport != nil {
		if err := put(BugReportFile, []byte(s.Data.BugReport.Markdown)); err != nil {
			return written, err
		}
	}
	if s.Data.Test != nil {
		if err := put(specFileName(s.Data.Test.Filename), []byte(s.Data.Test.PlaywrightSpec)); err != nil {
			return written, err
		}
	}
	if s.Data.Patch != nil {
		diff := s.Data.Patch.Diff
		if !strings.HasSuffix(diff, "\n") {
			diff += "\n"
		}
		if err := put(PatchFile, []byte(diff)); err != nil {
			return written, err
		}
	}

	path := filepath.Join(a.dir, SnapshotFile)
	if err := WriteJSON(path, s); err != nil {
		return written, err
	}
	return append(written, path), nil
}

// LoadSnapshot reads back the snapshot written by Write.
func (a *Artifacts) LoadSnapshot() (*Snapshot, error) {
	var s Snapshot
	if err := ReadJSON(filepath.Join(a.dir, SnapshotFile), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// specFileName keeps only the base name the backend chose so a spec can
// never be written outside the output directory.
func specFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/", BugReportFile, PatchFile, SnapshotFile:
		return fallbackSpecName
	}
	return base
}

// WriteAtomic writes data to a temp file in the target directory and
// renames it over path.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	tmpName = ""
	return nil
}

// WriteJSON writes v as indented JSON to path atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteAtomic(path, append(data, '\n'))
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}
