package danfe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/minutron/minutron/internal/common"
	"github.com/minutron/minutron/internal/entity"
	"github.com/minutron/minutron/internal/extract"
	"github.com/minutron/minutron/internal/fingerprint"
)

// ParseCache persists parse results keyed by document content hash.
type ParseCache interface {
	Load(hash string) (entity.Document, bool)
	Store(hash string, doc entity.Document) error
}

// Parsed is one document's parse plus the raw text it came from. Text is
// empty when the document was served from the parse cache.
type Parsed struct {
	Doc  entity.Document
	Data []byte
	Text string
}

// Adapter runs extraction once per document and merges batches.
type Adapter struct {
	extractor extract.DocumentExtractor
	detector  *Detector
	cache     ParseCache
	logger    *slog.Logger

	mu   sync.Mutex
	memo map[string]entity.Document
}

// NewAdapter wires the extraction collaborator; cache and detector may be nil.
func NewAdapter(extractor extract.DocumentExtractor, detector *Detector, cache ParseCache, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = defaultDetector
	}
	return &Adapter{
		extractor: extractor,
		detector:  detector,
		cache:     cache,
		logger:    logger,
		memo:      map[string]entity.Document{},
	}
}

// Parse extracts and parses one document, memoized by path and, when a
// cache is configured, by content hash.
func (a *Adapter) Parse(ctx context.Context, path string) (Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Parsed{}, fmt.Errorf("read %s: %w", path, err)
	}

	a.mu.Lock()
	doc, ok := a.memo[path]
	a.mu.Unlock()
	if ok {
		return Parsed{Doc: doc, Data: data}, nil
	}

	hash := fingerprint.ContentHash(data)
	if a.cache != nil {
		if doc, ok := a.cache.Load(hash); ok {
			doc.Path = path
			a.remember(path, doc)
			a.logger.Debug("danfe.parse.cache_hit", "path", path, "hash", hash)
			return Parsed{Doc: doc, Data: data}, nil
		}
	}

	res, err := a.extractor.Extract(ctx, path)
	if errors.Is(err, extract.ErrNoPages) {
		a.logger.Info("danfe.parse.empty", "path", path)
		return Parsed{Doc: entity.Document{Path: path, ContentHash: hash}, Data: data}, nil
	}
	if err != nil {
		return Parsed{Data: data}, err
	}

	doc = ParseDocument(res.Text, res.Tables)
	doc.Path = path
	doc.ContentHash = hash
	doc.AccessKey, _ = fingerprint.ExtractAccessKey(res.Text)
	doc.IsDANFE = a.detector.IsDANFE(res.Text)

	// A partial extraction is served once and retried next time.
	if len(res.Warnings) == 0 {
		a.remember(path, doc)
		if a.cache != nil {
			if err := a.cache.Store(hash, doc); err != nil {
				a.logger.Warn("danfe.parse.cache_store_failed", "path", path, "error", err)
			}
		}
	}
	a.logger.Debug("danfe.parse.done",
		"path", path,
		"session_id", common.SessionIDFromContext(ctx),
		"items", len(doc.Items),
		"is_danfe", doc.IsDANFE,
		"warnings", len(res.Warnings),
	)
	return Parsed{Doc: doc, Data: data, Text: res.Text}, nil
}

func (a *Adapter) remember(path string, doc entity.Document) {
	a.mu.Lock()
	a.memo[path] = doc
	a.mu.Unlock()
}

// Forget drops memoized parses for the given paths.
func (a *Adapter) Forget(paths ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range paths {
		delete(a.memo, p)
	}
}

// ExtractBatch merges documents in order. The header comes from the first
// document that parsed; items are concatenated in document order. A
// document that fails extraction is skipped with a warning.
func (a *Adapter) ExtractBatch(ctx context.Context, paths []string) (entity.Header, []entity.LineItem, error) {
	var (
		header    entity.Header
		haveFirst bool
		items     []entity.LineItem
		seen      = map[string]struct{}{}
		carriers  []string
	)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return entity.Header{}, nil, err
		}
		p, err := a.Parse(ctx, path)
		if err != nil {
			a.logger.Warn("danfe.batch.document_skipped", "path", path, "error", err)
			continue
		}
		doc := p.Doc
		if !haveFirst {
			header = doc.Header
			haveFirst = true
		}
		items = append(items, doc.Items...)

		if name := strings.ToUpper(strings.TrimSpace(doc.Header.Carrier)); name != "" {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				carriers = append(carriers, name)
			}
		}
	}

	if !haveFirst {
		return entity.Header{}, nil, common.NewAppError("NO_DOCUMENTS", "no document in the batch could be parsed", common.ErrNoDocuments)
	}

	header.SeenCarriers = carriers
	header.TotalValue = entity.SumLineValues(items)
	a.logger.Info("danfe.batch.extracted",
		"documents", len(paths),
		"items", len(items),
		"carriers", len(carriers),
	)
	return header, items, nil
}
