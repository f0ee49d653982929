package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/pricewatch/pricewatch/internal/browser"
	"github.com/pricewatch/pricewatch/internal/config"
	"github.com/pricewatch/pricewatch/internal/database"
)

// region-profile opens a headful browser over a region's persistent
// profile so an operator can pick the delivery region by hand. The chosen
// state lands in the profile directory and is reused by session runs.
func main() {
	var (
		name    = flag.String("name", "", "Region profile name (e.g. \"Moscow\")")
		homeURL = flag.String("home", "https://www.ozon.ru/", "Page to open for region selection")
		noDB    = flag.Bool("no-db", false, "Skip registering the profile in the database")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: region-profile -name <region name>")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	storagePath := filepath.Join(cfg.Runner.RegionRoot, slugify(*name))
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		logger.Error("failed to create profile directory", "path", storagePath, "error", err)
		os.Exit(1)
	}

	opts := browser.DefaultOptions()
	opts.Headless = false
	opts.StoragePath = storagePath

	b, err := browser.New(opts)
	if err != nil {
		logger.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	page, err := b.NewPage()
	if err != nil {
		logger.Error("failed to open page", "error", err)
		os.Exit(1)
	}

	if _, err := page.Goto(*homeURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		logger.Error("failed to open home page", "url", *homeURL, "error", err)
		os.Exit(1)
	}

	logger.Info("browser is open, pick the region and close the window when done",
		"region", *name, "storage", storagePath)

	done := make(chan struct{})
	page.OnClose(func(playwright.Page) {
		close(done)
	})
	<-done

	logger.Info("profile saved", "storage", storagePath)

	if *noDB {
		return
	}

	ctx := context.Background()
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Warn("profile saved but not registered: database unavailable", "error", err)
		return
	}
	defer db.Close()

	region, err := database.NewStore(db).CreateRegion(ctx, *name, storagePath)
	if err != nil {
		logger.Error("failed to register region", "error", err)
		os.Exit(1)
	}

	logger.Info("region registered", "id", region.ID, "name", region.Name)
}

var slugPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "region"
	}
	return slug
}
