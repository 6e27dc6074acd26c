package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/minutron/minutron/internal/entity"
)

// parseCacheVersion is bumped whenever the parser output changes shape.
const parseCacheVersion = 1

var parseEntrySchema = map[string]any{
	"type":     "object",
	"required": []string{"version", "hash", "document"},
	"properties": map[string]any{
		"version": map[string]any{"const": parseCacheVersion},
		"hash":    map[string]any{"type": "string", "pattern": "^[0-9a-f]{64}$"},
		"document": map[string]any{
			"type":     "object",
			"required": []string{"header", "items"},
			"properties": map[string]any{
				"header": map[string]any{"type": "object"},
				"items": map[string]any{
					"type": []string{"array", "null"},
					"items": map[string]any{
						"type":     "object",
						"required": []string{"codigo_prod", "ocorrencia"},
						"properties": map[string]any{
							"codigo_prod": map[string]any{"type": "string"},
							"ocorrencia":  map[string]any{"type": "string"},
							"qtde":        map[string]any{"type": "number"},
							"valor_nf":    map[string]any{"type": "number"},
							"status":      map[string]any{"enum": []string{"", "BOM", "RUIM", "DOA"}},
						},
					},
				},
			},
		},
	},
}

type parseEntry struct {
	Version  int             `json:"version"`
	Hash     string          `json:"hash"`
	Document entity.Document `json:"document"`
}

// ParseCache stores parse results on disk as <dir>/<hash>.json. Entries
// that fail schema validation are treated as misses.
type ParseCache struct {
	dir    string
	schema *jsonschema.Schema
	logger *slog.Logger
	mu     sync.Mutex
}

func NewParseCache(dir string, logger *slog.Logger) (*ParseCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("parse cache dir: %w", err)
	}
	schema, err := compileSchema(parseEntrySchema)
	if err != nil {
		return nil, err
	}
	return &ParseCache{dir: dir, schema: schema, logger: logger}, nil
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("parse_entry.json", strings.NewReader(string(b))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("parse_entry.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func (c *ParseCache) path(hash string) string {
	return filepath.Join(c.dir, hash+".json")
}

func (c *ParseCache) Load(hash string) (entity.Document, bool) {
	c.mu.Lock()
	data, err := os.ReadFile(c.path(hash))
	c.mu.Unlock()
	if err != nil {
		return entity.Document{}, false
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("parse cache entry is not json", "hash", hash, "error", err)
		return entity.Document{}, false
	}
	if err := c.schema.Validate(v); err != nil {
		c.logger.Warn("parse cache entry does not match schema", "hash", hash, "error", err)
		return entity.Document{}, false
	}

	var e parseEntry
	if err := json.Unmarshal(data, &e); err != nil || e.Hash != hash {
		return entity.Document{}, false
	}
	return e.Document, true
}

func (c *ParseCache) Store(hash string, doc entity.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSON(c.path(hash), parseEntry{Version: parseCacheVersion, Hash: hash, Document: doc})
}
