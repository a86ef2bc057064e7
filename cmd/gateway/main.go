// Copyright (C) 2025 Seya AI (dev@seya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The gateway service exposes the browser-facing chat websocket and relays
// each admitted query to the LLM service's streaming RPC.
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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/seya-ai/chat-assistant/pkg/logging"
	"github.com/seya-ai/chat-assistant/services/gateway/handlers"
	"github.com/seya-ai/chat-assistant/services/gateway/llmstream"
	"github.com/seya-ai/chat-assistant/services/gateway/observability"
	"github.com/seya-ai/chat-assistant/services/gateway/ratelimit"
	"github.com/seya-ai/chat-assistant/services/gateway/routes"
)

const startupTimeout = 30 * time.Second

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway-service")))
	if err != nil {
		return nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
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

func main() {
	logging.Setup("gateway")

	port := os.Getenv("GATEWAY_PORT")
	if port == "" {
		port = "12300"
	}
	llmAddr := os.Getenv("LLM_SERVICE_ADDR")
	if llmAddr == "" {
		llmAddr = "llm-service:50051"
	}

	cleanup, err := initTracer()
	if err != nil {
		slog.Error("failed to setup the OTLP tracer", "error", err)
		os.Exit(1)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	// The shared LLM channel must be up before we accept a single session.
	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	llmClient, err := llmstream.NewClient(startupCtx, llmAddr)
	cancel()
	if err != nil {
		slog.Error("failed to establish the llm channel", "addr", llmAddr, "error", err)
		os.Exit(1)
	}
	defer llmClient.Close()
	slog.Info("llm channel established", "addr", llmAddr)

	limiter := ratelimit.New(
		envInt("RATE_LIMIT_CAPACITY", 10),
		time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 10))*time.Second,
	)

	opener := func(ctx context.Context, correlationID, userID, query string) (handlers.TokenStream, error) {
		return llmClient.Open(ctx, correlationID, userID, query)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("gateway-service"))
	routes.SetupRoutes(router, opener, limiter)

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		slog.Info("gateway listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("gateway shutdown failed", "error", err)
	}
}
