// Package ingest admits a directory of DANFE PDFs into one batch, the
// offline counterpart of chat uploads.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/minutron/minutron/constants"
	"github.com/minutron/minutron/internal/danfe"
	"github.com/minutron/minutron/internal/fingerprint"
)

// Parser is the extraction adapter as seen by the directory ingest.
type Parser interface {
	Parse(ctx context.Context, path string) (danfe.Parsed, error)
}

// Outcome is what happened to one file.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// FileResult is the per-file ingest outcome.
type FileResult struct {
	Path    string
	Outcome Outcome
	Key     string
	Hash    string
	// Unreadable marks a file admitted by hash after extraction failed.
	Unreadable bool
	Err        string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Accepted     uint32
	Deduplicated uint32
	Rejected     uint32
	Failed       uint32
}

// Ingestor walks directories and admits DANFEs through a fingerprint set.
type Ingestor struct {
	parser     Parser
	skipHidden bool
	logger     *slog.Logger
}

func NewIngestor(parser Parser, skipHidden bool, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{parser: parser, skipHidden: skipHidden, logger: logger}
}

// IngestDirectory walks root in lexical order and admits every PDF into
// set. Accepted paths are returned in admission order alongside per-file
// results. A bad file never stops the walk.
func (i *Ingestor) IngestDirectory(ctx context.Context, root string, set *fingerprint.Set) ([]string, []FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, nil, DirStats{}, errors.New("root path is required")
	}

	var (
		accepted []string
		results  []FileResult
		stats    DirStats
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Outcome: OutcomeFailed, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if i.skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !constants.IsAllowedFilename(d.Name()) {
			return nil
		}
		stats.Matched++

		r := i.IngestPath(ctx, path, set)
		results = append(results, r)
		switch r.Outcome {
		case OutcomeAccepted:
			accepted = append(accepted, path)
			stats.Accepted++
		case OutcomeDuplicate:
			stats.Deduplicated++
		case OutcomeRejected:
			stats.Rejected++
		default:
			stats.Failed++
		}
		return nil
	})
	if err != nil {
		return accepted, results, stats, fmt.Errorf("walk: %w", err)
	}

	i.logger.Info("ingest.directory.done",
		"root", root,
		"scanned", stats.Scanned,
		"accepted", stats.Accepted,
		"duplicates", stats.Deduplicated,
		"rejected", stats.Rejected,
		"failed", stats.Failed,
	)
	return accepted, results, stats, nil
}

// IngestPath parses one file and admits it. A file whose extraction fails
// is still admitted by content hash; a parsed file that is not a DANFE is
// rejected.
func (i *Ingestor) IngestPath(ctx context.Context, path string, set *fingerprint.Set) FileResult {
	p, err := i.parser.Parse(ctx, path)
	if err != nil && p.Data == nil {
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			i.logger.Warn("ingest.file.unreadable", "path", path, "error", rerr)
			return FileResult{Path: path, Outcome: OutcomeFailed, Err: rerr.Error()}
		}
		p.Data = data
	}

	if err != nil {
		i.logger.Warn("ingest.file.extract_failed", "path", path, "error", err)
		v := set.AdmitFingerprint("", fingerprint.ContentHash(p.Data))
		return FileResult{Path: path, Outcome: outcome(v), Hash: v.Hash, Unreadable: true, Err: err.Error()}
	}
	if !p.Doc.IsDANFE {
		i.logger.Info("ingest.file.rejected", "path", path)
		return FileResult{Path: path, Outcome: OutcomeRejected}
	}

	hash := p.Doc.ContentHash
	if hash == "" {
		hash = fingerprint.ContentHash(p.Data)
	}
	v := set.AdmitFingerprint(p.Doc.AccessKey, hash)
	if v.Outcome == fingerprint.Duplicate {
		i.logger.Info("ingest.file.duplicate", "path", path, "key", v.Key)
	}
	return FileResult{Path: path, Outcome: outcome(v), Key: v.Key, Hash: v.Hash}
}

func outcome(v fingerprint.Verdict) Outcome {
	if v.Outcome == fingerprint.Duplicate {
		return OutcomeDuplicate
	}
	return OutcomeAccepted
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
