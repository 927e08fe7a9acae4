package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/muhtesem-assistant/internal/agent"
	"github.com/comigor/muhtesem-assistant/internal/alerts"
	"github.com/comigor/muhtesem-assistant/internal/chat"
	"github.com/comigor/muhtesem-assistant/internal/config"
	"github.com/comigor/muhtesem-assistant/internal/httpapi"
	"github.com/comigor/muhtesem-assistant/internal/jobs"
	"github.com/comigor/muhtesem-assistant/internal/llm"
	"github.com/comigor/muhtesem-assistant/internal/logger"
	"github.com/comigor/muhtesem-assistant/internal/savedjobs"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	// Model client and agent (retrieval tools come from the configured MCP servers)
	llmClient := llm.NewClient(cfg.LLM)
	assistant := agent.New(llmClient, *cfg)
	defer func() {
		if err := assistant.Close(); err != nil {
			logger.L.Warn("agent close error", "error", err)
		}
	}()

	catalog := jobs.Default()
	saved := savedjobs.New(cfg.Store.Path)
	defer saved.Close()

	instruction := func() (string, error) {
		return chat.Instruction(chat.InstructionData{
			AssistantName: cfg.Chat.AssistantName,
			Company:       cfg.Chat.Company,
			Catalog:       catalog,
		})
	}
	registry := chat.NewRegistry(func() chat.Options {
		return chat.Options{
			Opener:          chat.AgentOpener(assistant),
			Instruction:     instruction,
			Submitter:       chat.SimulatedSubmitter{Delay: cfg.Chat.SubmitDelay},
			Welcome:         cfg.Chat.WelcomeMessage,
			NotifyTimeout:   cfg.Chat.NotifyTimeout,
			EchoSubmissions: cfg.Chat.EchoSubmissions,
		}
	})
	var images *jobs.Images
	if cfg.LLM.ImageModel != "" {
		images = jobs.NewImages(llm.NewImageClient(cfg.LLM), cfg.LLM.ImageModel, cfg.LLM.ImageSize)
	}
	api := httpapi.NewServer(httpapi.Options{
		Conversations: registry,
		Catalog:       catalog,
		Saved:         saved,
		Images:        images,
		Alerts:        alerts.New(cfg.Chat.SubmitDelay),
		PublicURL:     cfg.Server.PublicURL,
		Company:       cfg.Chat.Company,
	})

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", serverAddr, "provider", cfg.LLM.Provider, "model", cfg.LLM.Model, "retrieval_tools", len(assistant.RetrievalTools()))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
		}
	case <-ctx.Done():
		logger.L.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.L.Error("server shutdown error", "error", err)
		}
	}

	api.Wait()
	registry.Close()
}
