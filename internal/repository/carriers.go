package repository

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/minutron/minutron/internal/carrier"
)

// CarrierDirectory is the shared list of known carrier names.
type CarrierDirectory interface {
	Add(ctx context.Context, name string) error
	AddMany(ctx context.Context, names []string) error
	All(ctx context.Context) ([]string, error)
	BestMatch(ctx context.Context, query string) (string, bool)
}

type carrierDir struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewCarrierDirectory keeps the directory in <dataDir>/transportadoras.json.
func NewCarrierDirectory(dataDir string, logger *slog.Logger) CarrierDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &carrierDir{path: filepath.Join(dataDir, "transportadoras.json"), logger: logger}
}

func (d *carrierDir) load() []string {
	var names []string
	if err := readJSON(d.path, &names); err != nil {
		d.logger.Warn("carrier directory unreadable, starting empty", "path", d.path, "error", err)
		return nil
	}
	return names
}

func (d *carrierDir) Add(ctx context.Context, name string) error {
	return d.AddMany(ctx, []string{name})
}

func (d *carrierDir) AddMany(_ context.Context, names []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.load()
	for _, n := range names {
		list = carrier.Merge(list, n)
	}
	if err := writeJSON(d.path, list); err != nil {
		d.logger.Error("failed to save carrier directory", "path", d.path, "error", err)
		return err
	}
	return nil
}

func (d *carrierDir) All(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load(), nil
}

func (d *carrierDir) BestMatch(ctx context.Context, query string) (string, bool) {
	names, _ := d.All(ctx)
	return carrier.BestMatch(query, names)
}
