package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Workspace lays out per-operator files under the data directory:
//
//	users/<qlid>/temp/<sid>/pdfs   uploads held for the open batch
//	users/<qlid>/minutas           rendered minutas
type Workspace struct {
	root string
	now  func() time.Time
}

func NewWorkspace(dataDir string) *Workspace {
	return &Workspace{root: dataDir, now: time.Now}
}

func (w *Workspace) userDir(qlid string) string {
	return filepath.Join(w.root, "users", qlid)
}

func (w *Workspace) sessionDir(qlid, sid string) string {
	return filepath.Join(w.userDir(qlid), "temp", sid)
}

// PDFDir creates and returns the holding area for a batch.
func (w *Workspace) PDFDir(qlid, sid string) (string, error) {
	dir := filepath.Join(w.sessionDir(qlid, sid), "pdfs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create holding area: %w", err)
	}
	return dir, nil
}

// SaveUpload writes an uploaded document into the batch holding area.
// The declared name is reduced to its base name.
func (w *Workspace) SaveUpload(qlid, sid, name string, data []byte) (string, error) {
	dir, err := w.PDFDir(qlid, sid)
	if err != nil {
		return "", err
	}
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "document.pdf"
	}
	path := uniquePath(dir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// uniquePath picks name, or name_2, name_3... when a held file already
// uses it, so a later upload never clobbers an admitted one.
func uniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

// Remove deletes one held document.
func (w *Workspace) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Discard deletes the whole holding area of a batch.
func (w *Workspace) Discard(qlid, sid string) error {
	if sid == "" {
		return nil
	}
	return os.RemoveAll(w.sessionDir(qlid, sid))
}

// DiscardUser deletes everything stored for an operator.
func (w *Workspace) DiscardUser(qlid string) error {
	return os.RemoveAll(w.userDir(qlid))
}

// MinutaPath returns a fresh output path <qlid>_<ddmmYYYY_HHMMSS>.pdf.
func (w *Workspace) MinutaPath(qlid string) (string, error) {
	dir := filepath.Join(w.userDir(qlid), "minutas")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.pdf", qlid, w.now().Format("02012006_150405"))
	return filepath.Join(dir, name), nil
}

// ListMinutas returns up to n rendered minutas, newest first (0 = all).
func (w *Workspace) ListMinutas(qlid string, n int) ([]string, error) {
	dir := filepath.Join(w.userDir(qlid), "minutas")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type file struct {
		path string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	if n > 0 && len(files) > n {
		files = files[:n]
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}
