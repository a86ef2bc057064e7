// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The scraper service archives pages behind search results and announces
// each archived page on the parser queue.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/seya-ai/chat-assistant/pkg/logging"
	"github.com/seya-ai/chat-assistant/services/scraper"
)

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		slog.Warn("ignoring invalid integer environment variable", "key", key, "value", v)
	}
	return fallback
}

// newObjectStore picks Cloud Storage when a bucket is configured and falls
// back to a local directory otherwise.
func newObjectStore(ctx context.Context) (scraper.ObjectStore, error) {
	if bucket := os.Getenv("GCS_BUCKET"); bucket != "" {
		return scraper.NewGCSStore(ctx, bucket)
	}
	return scraper.NewFileStore(envStr("ARCHIVE_DIR", "/var/lib/seya/archive"))
}

func main() {
	logging.Setup("scraper")

	port := envStr("SCRAPER_PORT", "12320")
	redisAddr := envStr("REDIS_ADDR", "redis:6379")

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("failed to reach redis", "addr", redisAddr, "error", err)
		os.Exit(1)
	}

	objects, err := newObjectStore(context.Background())
	if err != nil {
		slog.Error("failed to open the object store", "error", err)
		os.Exit(1)
	}

	meta, err := scraper.OpenMetadataStore(
		envStr("METADATA_DIR", "/var/lib/seya/metadata"),
		time.Duration(envInt("RAW_TTL_DAYS", 30))*24*time.Hour,
	)
	if err != nil {
		slog.Error("failed to open the metadata store", "error", err)
		os.Exit(1)
	}
	defer meta.Close()

	fetcher := scraper.NewFetcher(scraper.FetcherConfig{
		UserAgent:       envStr("SCRAPER_USER_AGENT", "seya-scraper/1.0 (+https://seya.ai)"),
		MaxBodyBytes:    int64(envInt("MAX_CONTENT_LENGTH_MB", 8)) << 20,
		PerHostInterval: time.Duration(envInt("PER_DOMAIN_DELAY_MS", 1000)) * time.Millisecond,
		Timeout:         time.Duration(envInt("REQUEST_TIMEOUT_SECONDS", 20)) * time.Second,
		Retries:         envInt("FETCH_RETRIES", 2),
	})

	consumer := scraper.NewConsumer(rdb, fetcher, objects, meta,
		envInt("SCRAPER_CONCURRENCY", 4),
		scraper.StreamSearchResults, scraper.StreamPagesFetched)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scrape consumer failed", "error", err)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		slog.Info("scraper listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("scraper server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down scraper")
	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("scraper shutdown failed", "error", err)
	}
}
