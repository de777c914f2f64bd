// Package fetcher retrieves page content through an adaptive two-stage
// pipeline: a plain HTTP attempt first, escalating to a headless browser
// when the static response looks script-starved, has an unrecognized type,
// or fails outright.
package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"

	"github.com/priynshgupta/zentra-web-chatbot/pkg/types"
)

// renderThreshold is the static-HTML size below which a page is suspected
// of under-delivering content without JavaScript.
const renderThreshold = 5000

// Renderer is the JavaScript-capable fallback consulted when static
// fetching under-delivers. *Browser satisfies it.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// Options controls HTTP fetching behaviour.
type Options struct {
	UserAgent    string
	Headers      map[string]string
	Timeout      time.Duration
	MaxAttempts  int
	MaxBodyBytes int64
	ProxyURL     string
	TempDir      string
}

// Fetcher performs the static-first, render-on-demand fetch.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	extraHeaders map[string]string
	maxAttempts  int
	maxBodyBytes int64
	tempDir      string
	renderer     Renderer
	logger       *slog.Logger

	// backoff is replaceable in tests; the default sleeps linearly.
	backoff func(ctx context.Context, attempt int)
}

// New constructs a fetcher. The renderer may be nil, in which case no
// escalation ever happens.
func New(opts Options, renderer Renderer, logger *slog.Logger) (*Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 6 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &Fetcher{
		client:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		userAgent:    opts.UserAgent,
		extraHeaders: headers,
		maxAttempts:  opts.MaxAttempts,
		maxBodyBytes: opts.MaxBodyBytes,
		tempDir:      opts.TempDir,
		renderer:     renderer,
		logger:       logger,
		backoff:      sleepBackoff,
	}, nil
}

// sleepBackoff waits 2+attempt*2 seconds before retry number attempt.
func sleepBackoff(ctx context.Context, attempt int) {
	delay := time.Duration(2+attempt*2) * time.Second
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Fetch retrieves one URL, classifying the payload and escalating to the
// renderer per policy. Failures are reported inside the result, never as a
// panic past this boundary.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, allowRender bool) types.PageResult {
	result := types.PageResult{URL: rawURL, Kind: types.KindNone}

	var lastErr error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			f.backoff(ctx, attempt)
		}
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}

		body, contentType, err := f.get(ctx, rawURL)
		if err != nil {
			lastErr = err
			f.logger.Warn("static fetch failed",
				"url", rawURL, "attempt", attempt+1, "attempts", f.maxAttempts, "error", err)
			continue
		}

		return f.classify(ctx, rawURL, body, contentType, allowRender)
	}

	// The attempt budget is exhausted; the renderer gets one last chance.
	if allowRender {
		if rendered := f.render(ctx, rawURL); rendered != "" {
			f.logger.Info("renderer recovered page after static failures", "url", rawURL)
			result.Kind = types.KindHTML
			result.Content = rendered
			return result
		}
	}
	result.Err = fmt.Errorf("fetch %s: %w", rawURL, lastErr)
	return result
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	for k, v := range f.extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http get: %w", err)
	}
	body, err := f.readBody(resp)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, fmt.Errorf("empty response body")
	}
	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	limited := io.LimitReader(reader, f.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", f.maxBodyBytes)
	}
	return body, nil
}

// classify maps a successful response onto a tagged PageResult.
func (f *Fetcher) classify(ctx context.Context, rawURL string, body []byte, contentType string, allowRender bool) types.PageResult {
	result := types.PageResult{URL: rawURL, Kind: types.KindNone}
	ct := strings.ToLower(contentType)
	lowerURL := strings.ToLower(rawURL)

	switch {
	case strings.Contains(ct, "text/html") || sniffsAsHTML(body):
		content := decodeText(body, contentType)
		if allowRender && len(content) < renderThreshold {
			if rendered := f.render(ctx, rawURL); len(rendered) > len(content) {
				f.logger.Info("using rendered content for script-driven page",
					"url", rawURL, "static_bytes", len(content), "rendered_bytes", len(rendered))
				content = rendered
			}
		}
		result.Kind = types.KindHTML
		result.Content = content

	case strings.Contains(ct, "application/pdf") || strings.HasSuffix(lowerURL, ".pdf") || bytes.HasPrefix(body, []byte("%PDF-")):
		return f.persistBinary(rawURL, body, types.KindPDF)

	case strings.Contains(ct, "application/msword") ||
		strings.Contains(ct, "application/vnd.openxmlformats-officedocument.wordprocessingml.document") ||
		strings.HasSuffix(lowerURL, ".doc") || strings.HasSuffix(lowerURL, ".docx"):
		return f.persistBinary(rawURL, body, types.KindDOCX)

	case strings.Contains(ct, "text/plain") || strings.HasSuffix(lowerURL, ".txt") || strings.HasSuffix(lowerURL, ".csv"):
		result.Kind = types.KindText
		result.Content = decodeText(body, contentType)

	default:
		// Unrecognized type: the renderer may reveal it to be HTML after all.
		if allowRender {
			if rendered := f.render(ctx, rawURL); rendered != "" {
				result.Kind = types.KindHTML
				result.Content = rendered
				return result
			}
		}
		content := decodeText(body, contentType)
		if strings.Contains(content, "<html") || strings.Contains(content, "<body") {
			result.Kind = types.KindHTML
			result.Content = content
			return result
		}
		result.Err = fmt.Errorf("unsupported content type %q for %s", contentType, rawURL)
	}
	return result
}

// persistBinary writes document bytes to a temporary file so downstream
// loaders can treat crawled and uploaded documents uniformly by path.
func (f *Fetcher) persistBinary(rawURL string, body []byte, kind types.ContentKind) types.PageResult {
	result := types.PageResult{URL: rawURL, Kind: kind}
	tmp, err := os.CreateTemp(f.tempDir, "zentra-*."+string(kind))
	if err != nil {
		result.Kind = types.KindNone
		result.Err = fmt.Errorf("create temp file: %w", err)
		return result
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		result.Kind = types.KindNone
		result.Err = fmt.Errorf("write temp file: %w", err)
		return result
	}
	if err := tmp.Close(); err != nil {
		result.Kind = types.KindNone
		result.Err = fmt.Errorf("close temp file: %w", err)
		return result
	}
	result.Content = tmp.Name()
	return result
}

func (f *Fetcher) render(ctx context.Context, rawURL string) string {
	if f.renderer == nil {
		return ""
	}
	content, err := f.renderer.Render(ctx, rawURL)
	if err != nil {
		f.logger.Warn("render failed", "url", rawURL, "error", err)
		return ""
	}
	return content
}

// sniffsAsHTML inspects leading bytes for servers that omit or misreport
// the content type.
func sniffsAsHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// decodeText converts bytes to a string using the declared or sniffed
// encoding, degrading to permissive UTF-8 coercion on failure.
func decodeText(body []byte, contentType string) string {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err == nil {
		if decoded, err := io.ReadAll(reader); err == nil {
			return string(decoded)
		}
	}
	return strings.ToValidUTF8(string(body), "�")
}
