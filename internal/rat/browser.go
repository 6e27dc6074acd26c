package rat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the web lookup.
type BrowserConfig struct {
	URL           string
	Headless      bool
	Bin           string // browser binary; empty lets the launcher pick one
	StepTimeout   time.Duration
	MaxCandidates int // 0 = no limit
	PollInterval  time.Duration
}

func (c *BrowserConfig) defaults() {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 25 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
}

// BrowserLookup drives the RAT consultation site in a headless browser.
// One browser process is shared; every lookup uses its own tab.
type BrowserLookup struct {
	cfg    BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func NewBrowserLookup(cfg BrowserConfig, logger *slog.Logger) *BrowserLookup {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserLookup{cfg: cfg, logger: logger}
}

func (b *BrowserLookup) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().Headless(b.cfg.Headless).Set("disable-blink-features", "AutomationControlled")
	if b.cfg.Bin != "" {
		l = l.Bin(b.cfg.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("rat: launch browser: %w", err)
	}
	br := rod.New().ControlURL(u)
	if err := br.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("rat: connect browser: %w", err)
	}
	b.browser, b.lnch = br, l
	b.logger.Info("rat.browser.started", "headless", b.cfg.Headless)
	return br, nil
}

// Close shuts the shared browser down.
func (b *BrowserLookup) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if b.lnch != nil {
		b.lnch.Kill()
	}
	b.browser, b.lnch = nil, nil
	return err
}

// Lookup searches the occurrence and returns the first RAT whose detail
// grid lists the product with the substitution solution.
func (b *BrowserLookup) Lookup(ctx context.Context, occurrence, product string) (string, error) {
	start := time.Now()
	br, err := b.connect()
	if err != nil {
		return "", err
	}
	page, err := stealth.Page(br)
	if err != nil {
		return "", fmt.Errorf("rat: open tab: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	log := b.logger.With("occurrence", occurrence, "product", product)

	if err := page.Timeout(b.cfg.StepTimeout).Navigate(b.cfg.URL); err != nil {
		return "", fmt.Errorf("rat: navigate: %w", err)
	}
	if err := b.submit(ctx, page, occurrence); err != nil {
		return "", err
	}
	html, err := b.waitHTML(ctx, page, b.cfg.StepTimeout, resultsReady)
	if err != nil {
		return "", fmt.Errorf("rat: results: %w", err)
	}

	cands := Candidates(html, occurrence, b.cfg.MaxCandidates)
	log.Debug("rat.browser.candidates", "prefix", OccurrencePrefix(occurrence), "candidates", cands)
	if len(cands) == 0 {
		return "", ErrNotFound
	}

	for _, code := range cands {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		hit, err := b.checkCandidate(ctx, page, code, product)
		if err != nil {
			log.Warn("rat.browser.candidate_failed", "rat", code, "error", err)
		}
		if hit {
			log.Info("rat.browser.hit", "rat", code, "elapsed_ms", time.Since(start).Milliseconds())
			return code, nil
		}
	}
	return "", ErrNotFound
}

func (b *BrowserLookup) submit(ctx context.Context, page *rod.Page, occurrence string) error {
	field, err := b.waitElement(ctx, page, `input[type="text"][id*="_13_"][id$="_0"]`, `input[type="text"]`)
	if err != nil {
		return fmt.Errorf("rat: occurrence field: %w", err)
	}
	_ = field.SelectAllText()
	if err := field.Input(occurrence); err != nil {
		return fmt.Errorf("rat: type occurrence: %w", err)
	}
	_ = field.Type(input.Tab)

	btn, err := b.waitElement(ctx, page, `input[type="button"][value*="Pesquisar"]`)
	if err != nil {
		return fmt.Errorf("rat: search button: %w", err)
	}
	_ = btn.ScrollIntoView()
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		if _, err := btn.Eval(`() => this.click()`); err != nil {
			return fmt.Errorf("rat: click search: %w", err)
		}
	}
	return nil
}

func (b *BrowserLookup) checkCandidate(ctx context.Context, page *rod.Page, code, product string) (bool, error) {
	has, link, err := page.HasR("a", "^"+regexp.QuoteMeta(code)+" ")
	if err != nil {
		return false, err
	}
	opened := false
	if has {
		if _, err := link.Eval(`() => this.click()`); err != nil {
			return false, err
		}
		opened = true
	}
	defer func() {
		if opened {
			_ = page.NavigateBack()
		}
	}()

	html, err := b.waitHTML(ctx, page, b.cfg.StepTimeout, func(h string) bool { return detailReady(h, code) })
	if err != nil {
		// the grid may still be usable without the expected headings
		html, err = page.HTML()
		if err != nil {
			return false, err
		}
	}
	return GridHasHit(html, product), nil
}

// waitElement returns the first visible element matching any selector.
func (b *BrowserLookup) waitElement(ctx context.Context, page *rod.Page, selectors ...string) (*rod.Element, error) {
	var found *rod.Element
	_, err := b.waitHTML(ctx, page, b.cfg.StepTimeout, func(string) bool {
		for _, sel := range selectors {
			els, err := page.Elements(sel)
			if err != nil {
				continue
			}
			for _, el := range els {
				if ok, _ := el.Visible(); ok {
					found = el
					return true
				}
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// waitHTML polls the page HTML until ready reports true or the step times out.
func (b *BrowserLookup) waitHTML(ctx context.Context, page *rod.Page, limit time.Duration, ready func(string) bool) (string, error) {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	tick := time.NewTicker(b.cfg.PollInterval)
	defer tick.Stop()

	for {
		html, err := page.HTML()
		if err == nil && ready(html) {
			return html, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("step timed out after %s", limit)
		case <-tick.C:
		}
	}
}
