package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/allprecisely/Ad-parser/internal/config"
	"github.com/allprecisely/Ad-parser/internal/dispatch"
	"github.com/allprecisely/Ad-parser/internal/enrich"
	"github.com/allprecisely/Ad-parser/internal/fetcher"
	"github.com/allprecisely/Ad-parser/internal/match"
	"github.com/allprecisely/Ad-parser/internal/model"
	"github.com/allprecisely/Ad-parser/internal/pipeline"
	"github.com/allprecisely/Ad-parser/internal/report"
	"github.com/allprecisely/Ad-parser/internal/source"
	"github.com/allprecisely/Ad-parser/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	exclude := flag.String("exclude", "", "comma-separated categories to skip this run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	excluded, err := parseExcluded(*exclude)
	if err != nil {
		log.Error("parse excluded categories", "error", err)
		os.Exit(1)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	mistakes := report.NewCollector()
	client := fetcher.New(http.DefaultClient, mistakes, log)
	adapter := source.NewSite(cfg.SiteBaseURL, client, mistakes, log)
	enricher := enrich.New(adapter, cfg.EnrichWorkers, mistakes, log)
	matcher := match.New(mistakes)
	dispatcher := dispatch.New(api, cfg.OperatorChatID, mistakes, log)

	p := pipeline.New(adapter, store, enricher, matcher, dispatcher, mistakes, log, pipeline.Options{
		Retention: cfg.Retention(),
		Timeout:   cfg.BatchTimeout(),
		Excluded:  excluded,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting batch")
	if err := p.Run(ctx); err != nil {
		log.Error("batch failed", "error", err)
		os.Exit(1)
	}
	log.Info("batch finished")
}

func parseExcluded(raw string) ([]model.Category, error) {
	if raw == "" {
		return nil, nil
	}
	known := make(map[model.Category]bool)
	for _, cat := range model.Categories() {
		known[cat] = true
	}

	var out []model.Category
	for _, s := range strings.Split(raw, ",") {
		cat := model.Category(strings.TrimSpace(s))
		if cat == "" {
			continue
		}
		if !known[cat] {
			return nil, fmt.Errorf("unknown category %q", cat)
		}
		out = append(out, cat)
	}
	return out, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
