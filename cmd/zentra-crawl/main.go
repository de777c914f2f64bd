// Command zentra-crawl runs a single crawl-and-classify pass against a
// website and prints the outcome, useful for inspecting what the chatbot
// would index without starting the API server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
	"github.com/priynshgupta/zentra-web-chatbot/internal/crawler"
	"github.com/priynshgupta/zentra-web-chatbot/internal/fetcher"
	"github.com/priynshgupta/zentra-web-chatbot/internal/robots"
	"github.com/priynshgupta/zentra-web-chatbot/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to service configuration")
	websiteURL := flag.String("url", "", "Website URL to crawl")
	corpusOut := flag.String("corpus", "", "Optional file to write the crawled corpus to as JSON")
	flag.Parse()

	if *websiteURL == "" {
		fmt.Fprintln(os.Stderr, "usage: zentra-crawl -url https://example.com [-config configs/config.yaml]")
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var renderer crawler.Renderer
	var fetchRenderer fetcher.Renderer
	if cfg.Browser.Enabled {
		browser := fetcher.NewBrowser(fetcher.BrowserOptions{
			UserAgent:       cfg.Fetch.UserAgent,
			Wait:            cfg.Browser.Wait.Duration,
			Settle:          cfg.Browser.Settle.Duration,
			DisableHeadless: cfg.Browser.DisableHeadless,
		}, logger)
		renderer = browser
		fetchRenderer = browser
	}

	fetch, err := fetcher.New(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.Timeout.Duration,
		MaxAttempts:  cfg.Fetch.MaxAttempts,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
	}, fetchRenderer, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise fetcher: %v\n", err)
		os.Exit(1)
	}

	sched := crawler.New(crawler.Options{
		Fetcher:  fetch,
		Renderer: renderer,
		Robots:   robots.NewAgent(cfg.Robots, &http.Client{Timeout: 10 * time.Second}),
		Limiter: crawler.NewDomainLimiter(cfg.Fetch.PerDomainDelay.Duration, crawler.RateLimiterSettings{
			Requests: cfg.Fetch.RateLimit.Requests,
			Window:   cfg.Fetch.RateLimit.Window.Duration,
		}),
		Progress: func(p types.Progress) {
			logger.Info("progress", "url", p.CurrentURL, "pages", p.PagesDone, "estimate", p.TotalEstimate)
		},
		Logger: logger,
	})

	outcome := sched.Crawl(ctx, *websiteURL)
	if !outcome.Success {
		fmt.Fprintf(os.Stderr, "crawl failed: %s\n", outcome.Reason)
		os.Exit(1)
	}

	fmt.Printf("pages processed: %d\n", outcome.PagesProcessed)
	fmt.Printf("corpus documents: %d\n", len(outcome.Corpus))
	if outcome.Categories != nil {
		fmt.Printf("industry: %s (%.2f)\n", outcome.Categories.PrimaryIndustry, outcome.Categories.IndustryConfidence)
		fmt.Printf("website type: %s (%.2f)\n", outcome.Categories.WebsiteType, outcome.Categories.TypeConfidence)
		fmt.Printf("audience: %s\n", outcome.Categories.TargetAudience)
	}

	if *corpusOut != "" {
		data, err := json.MarshalIndent(outcome.Corpus, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode corpus: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*corpusOut, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write corpus: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("corpus written to %s\n", *corpusOut)
	}
}
