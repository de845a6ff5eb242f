package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"wabridge/ai"
	"wabridge/config"
	"wabridge/db"
	"wabridge/router"
	"wabridge/server"
	"wabridge/session"
	"wabridge/wa"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx := context.Background()

	dynamo, err := cfg.NewDynamoDB(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize DynamoDB")
	}
	store := db.NewSessionStore(dynamo)
	if err := store.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap sessions table")
	}

	// The message log is optional: without it the gateway still bridges,
	// it just keeps no conversation history.
	var logbook *db.MessageLog
	if cfg.ReplyMode == config.ReplyModeDirect {
		logbook, err = db.NewMessageLog(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Warn().Err(err).Msg("MongoDB unavailable, continuing without message history")
		}
	}

	dialer, err := wa.NewMeowDialer(cfg.SqlStorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open WhatsApp device store")
	}

	manager := session.NewManager(dialer, store, session.Config{
		ReconnectDelay: cfg.ReconnectDelay,
		SendLimiter:    rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
	})

	var dispatch router.Dispatch
	switch cfg.ReplyMode {
	case config.ReplyModeDirect:
		dispatch = router.DirectDispatch(ai.NewClient(cfg.AssistantURL), manager, logbook)
	default:
		dispatch = router.WebhookDispatch(cfg.WebhookURL, nil)
	}
	inbound := router.New(dispatch)
	manager.SetMessageHandler(inbound.Handle)

	hub := server.NewHub()
	manager.SetTransitionHook(hub.Broadcast)

	// Reconnect tenants that still have persisted credentials.
	manager.Restore(ctx)

	engine := server.New(manager, hub)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      engine,
		ReadTimeout:  3 * time.Minute,
		WriteTimeout: 3 * time.Minute,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("reply_mode", cfg.ReplyMode).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	manager.Close()
	hub.Close()
	if logbook != nil {
		if err := logbook.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to close MongoDB connection")
		}
	}
}
