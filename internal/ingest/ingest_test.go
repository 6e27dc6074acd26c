package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minutron/minutron/internal/danfe"
	"github.com/minutron/minutron/internal/entity"
	"github.com/minutron/minutron/internal/fingerprint"
)

// fakeParser decides by file content: "key:<k>" parses as a DANFE with
// access key k, "other" parses as a non-DANFE, anything else fails.
type fakeParser struct{}

func (fakeParser) Parse(_ context.Context, path string) (danfe.Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return danfe.Parsed{}, err
	}
	s := string(data)
	switch {
	case len(s) > 4 && s[:4] == "key:":
		return danfe.Parsed{Data: data, Doc: entity.Document{Path: path, AccessKey: s[4:], IsDANFE: true}}, nil
	case s == "other":
		return danfe.Parsed{Data: data, Doc: entity.Document{Path: path}}, nil
	}
	return danfe.Parsed{Data: data}, errors.New("pdftotext: exit status 1")
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.pdf", "key:111")
	write(t, root, "b.PDF", "key:222")
	write(t, root, "c.pdf", "key:111")
	write(t, root, "d.pdf", "other")
	write(t, root, "e.pdf", "scanned")
	write(t, root, "f.pdf", "scanned")
	write(t, root, "notes.txt", "key:333")
	write(t, root, ".hidden/g.pdf", "key:444")
	write(t, root, "sub/h.pdf", "key:555")

	set := fingerprint.NewSet()
	ing := NewIngestor(fakeParser{}, true, nil)
	accepted, results, stats, err := ing.IngestDirectory(context.Background(), root, set)
	if err != nil {
		t.Fatalf("IngestDirectory() error = %v", err)
	}

	wantAccepted := []string{"a.pdf", "b.PDF", "e.pdf", "sub/h.pdf"}
	if len(accepted) != len(wantAccepted) {
		t.Fatalf("accepted = %v", accepted)
	}
	for i, w := range wantAccepted {
		if accepted[i] != filepath.Join(root, w) {
			t.Fatalf("accepted[%d] = %s, want %s", i, accepted[i], w)
		}
	}
	if stats.Matched != 7 || stats.Accepted != 4 || stats.Deduplicated != 2 || stats.Rejected != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if set.Len() != 4 {
		t.Fatalf("set.Len() = %d", set.Len())
	}

	byName := map[string]FileResult{}
	for _, r := range results {
		byName[filepath.Base(r.Path)] = r
	}
	if r := byName["e.pdf"]; !r.Unreadable || r.Outcome != OutcomeAccepted || r.Hash == "" {
		t.Fatalf("e.pdf = %+v", r)
	}
	if r := byName["f.pdf"]; r.Outcome != OutcomeDuplicate {
		t.Fatalf("f.pdf = %+v", r)
	}
	if r := byName["c.pdf"]; r.Outcome != OutcomeDuplicate || r.Key != "111" {
		t.Fatalf("c.pdf = %+v", r)
	}
}

func TestIngestDirectoryKeepsHiddenWhenAsked(t *testing.T) {
	root := t.TempDir()
	write(t, root, ".hidden/g.pdf", "key:444")
	accepted, _, _, err := NewIngestor(fakeParser{}, false, nil).IngestDirectory(context.Background(), root, fingerprint.NewSet())
	if err != nil || len(accepted) != 1 {
		t.Fatalf("accepted = %v, err = %v", accepted, err)
	}
}

func TestIngestDirectoryRequiresRoot(t *testing.T) {
	if _, _, _, err := NewIngestor(fakeParser{}, true, nil).IngestDirectory(context.Background(), " ", fingerprint.NewSet()); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestIsHidden(t *testing.T) {
	cases := map[string]bool{
		"/tmp/.git":      true,
		"/tmp/a/.nf.pdf": true,
		"/tmp/a/nf.pdf":  false,
		"relative/dir":   false,
	}
	for in, want := range cases {
		if got := IsHidden(in); got != want {
			t.Errorf("IsHidden(%q) = %v, want %v", in, got, want)
		}
	}
}
