package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// dismissConsentJS clicks elements whose visible text or attributes match
// consent vocabulary, so cookie walls do not hide the page content.
const dismissConsentJS = `(() => {
	const words = ['accept', 'cookie', 'consent', 'agree'];
	let clicked = 0;
	for (const el of document.querySelectorAll('button, [role="button"], a')) {
		const label = ((el.innerText || '') + ' ' + (el.id || '') + ' ' + (el.className || '')).toLowerCase();
		if (words.some(w => label.includes(w))) {
			try { el.click(); clicked++; } catch (e) {}
		}
	}
	return clicked;
})()`

// BrowserOptions configures the headless rendering session.
type BrowserOptions struct {
	UserAgent       string
	Wait            time.Duration
	Settle          time.Duration
	DisableHeadless bool
}

// Browser owns one lazily created headless Chrome session, reused across
// renders within a crawl. A liveness probe precedes each reuse; an
// unresponsive session is torn down and recreated transparently. Close must
// be called exactly once when the crawl finishes or aborts.
type Browser struct {
	opts   BrowserOptions
	logger *slog.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	closed      bool

	closeOnce sync.Once
}

// NewBrowser prepares a browser handle. No Chrome process is started until
// the first Render call.
func NewBrowser(opts BrowserOptions, logger *slog.Logger) *Browser {
	if opts.Wait <= 0 {
		opts.Wait = 10 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{opts: opts, logger: logger}
}

var errBrowserClosed = errors.New("browser handle already closed")

// Render loads the page, waits for the document body up to the configured
// wait, settles for asynchronous content, dismisses consent overlays, and
// returns the rendered markup. A load timeout still yields the partial DOM;
// only a hard driver fault returns an error.
func (b *Browser) Render(ctx context.Context, pageURL string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", errBrowserClosed
	}
	if err := b.ensureSessionLocked(); err != nil {
		return "", err
	}

	logger := b.logger.With("url", pageURL)
	total := b.opts.Wait + b.opts.Settle + 10*time.Second
	runCtx, cancel := context.WithTimeout(b.tabCtx, total)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		defer dcancel()
	}

	var html string
	var clicked int
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.opts.Settle),
		chromedp.Evaluate(dismissConsentJS, &clicked),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err == nil {
		if clicked > 0 {
			logger.Debug("dismissed consent overlays", "clicked", clicked)
		}
		return html, nil
	}

	// A partial render beats nothing: salvage whatever DOM loaded before
	// the timeout. Only a dead session is reported as a fault.
	logger.Warn("render did not complete, salvaging partial DOM", "error", err)
	salvageCtx, scancel := context.WithTimeout(b.tabCtx, 3*time.Second)
	defer scancel()
	if serr := chromedp.Run(salvageCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); serr == nil && html != "" {
		return html, nil
	}

	b.teardownLocked()
	return "", err
}

// ensureSessionLocked reuses the existing session when it responds to a
// liveness probe, otherwise starts a fresh one.
func (b *Browser) ensureSessionLocked() error {
	if b.tabCtx != nil {
		probeCtx, cancel := context.WithTimeout(b.tabCtx, 2*time.Second)
		var readyState string
		err := chromedp.Run(probeCtx, chromedp.Evaluate(`document.readyState`, &readyState))
		cancel()
		if err == nil {
			return nil
		}
		b.logger.Warn("browser session unresponsive, recreating", "error", err)
		b.teardownLocked()
	}

	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", !b.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(1920, 1080),
	}
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Start the process now so a broken Chrome install fails loudly here
	// instead of midway through a navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return err
	}

	b.allocCancel = allocCancel
	b.tabCtx = tabCtx
	b.tabCancel = tabCancel
	return nil
}

func (b *Browser) teardownLocked() {
	if b.tabCancel != nil {
		b.tabCancel()
		b.tabCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.tabCtx = nil
}

// Close tears the session down. Safe to call from any exit path; only the
// first call has an effect.
func (b *Browser) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		b.teardownLocked()
	})
}
