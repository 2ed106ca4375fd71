// Package main is the entry point for the API server.
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

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/freetalk/messaging/internal/cache"
	"github.com/freetalk/messaging/internal/config"
	"github.com/freetalk/messaging/internal/handler"
	"github.com/freetalk/messaging/internal/identity"
	natsclient "github.com/freetalk/messaging/internal/nats"
	"github.com/freetalk/messaging/internal/push"
	"github.com/freetalk/messaging/internal/realtime"
	"github.com/freetalk/messaging/internal/service"
	"github.com/freetalk/messaging/internal/store"
	"github.com/freetalk/messaging/internal/store/memory"
	"github.com/freetalk/messaging/internal/store/mongostore"
	"github.com/freetalk/messaging/pkg/logger"
	"github.com/freetalk/messaging/pkg/tracing"
)

const serviceName = "freetalk-messaging"

type stores struct {
	conversations store.Conversations
	messages      store.Messages
	notifications store.Notifications
	users         store.Users
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server")
	checks := map[string]handler.Check{}

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Stores
	var st stores
	if cfg.MongoURI != "" {
		mc, err := mongostore.Connect(ctx, mongostore.Config{
			URI:         cfg.MongoURI,
			Database:    cfg.MongoDatabase,
			MaxPoolSize: cfg.MongoMaxPoolSize,
		}, log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mc.Close(closeCtx); err != nil {
				log.Warn("failed to disconnect MongoDB", zap.Error(err))
			}
		}()
		if err := mc.EnsureIndexes(ctx); err != nil {
			return err
		}
		st = stores{
			conversations: mc.Conversations(),
			messages:      mc.Messages(),
			notifications: mc.Notifications(),
			users:         mc.Users(),
		}
		checks["mongo"] = mc.Ping
	} else {
		log.Warn("MONGO_URI not set, using in-memory stores")
		st = stores{
			conversations: memory.NewConversations(),
			messages:      memory.NewMessages(),
			notifications: memory.NewNotifications(),
			users:         memory.NewUsers(),
		}
	}

	// Redis: conversation-list cache and cluster presence
	var (
		lists    cache.ConversationLists = cache.Noop{}
		presence realtime.Presence
	)
	hostname, _ := os.Hostname()
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		lists = cache.NewRedisConversationLists(rdb, cfg.CacheTTL, log)
		presence = realtime.NewRedisPresence(rdb, hostname, 3*cfg.WSPingInterval)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	resolver := identity.NewResolver(cfg.JWTSecret, st.users)

	// Push channel
	registry := realtime.NewRegistry(presence, log)
	gateway := realtime.NewGateway(realtime.Config{
		AuthTimeout:  cfg.WSAuthTimeout,
		PingInterval: cfg.WSPingInterval,
		SendBuffer:   cfg.WSSendBuffer,
	}, resolver, registry, log)
	defer gateway.Close()

	// NATS: cross-node fan-out
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     serviceName + "-" + gateway.NodeID(),
		}, log)
		if err != nil {
			return err
		}
		defer nc.Close()

		bus := natsclient.NewBus(nc, log)
		if err := gateway.AttachBus(bus); err != nil {
			return err
		}
		defer bus.Close()
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	// Mobile push
	var sender push.Sender = push.NewLogSender(log)
	if cfg.FCMCredentialsFile != "" {
		fcm, err := push.NewFCMSender(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			return err
		}
		sender = fcm
	} else {
		log.Warn("FCM_CREDENTIALS_FILE not set, pushes are logged only")
	}
	dispatcher := push.NewDispatcher(sender, st.users, cfg.PushTimeout, log)
	defer dispatcher.Wait()

	// Initialize services
	conversationSvc := service.NewConversationService(st.conversations, st.messages, st.users, resolver, gateway, lists, log)
	notificationSvc := service.NewNotificationService(st.notifications, st.users, gateway, gateway, dispatcher, log)
	messageSvc := service.NewMessageService(service.MessageDeps{
		Conversations: st.conversations,
		Messages:      st.messages,
		Users:         st.users,
		Emitter:       gateway,
		Presence:      gateway,
		Pusher:        dispatcher,
		Lists:         lists,
	}, conversationSvc, notificationSvc, log)
	gateway.SetAuthorizer(conversationSvc)

	uploader, err := handler.NewLocalUploader(cfg.UploadDir, cfg.UploadBaseURL, cfg.MaxUploadBytes)
	if err != nil {
		return err
	}

	// Create router
	var h http.Handler = handler.NewRouter(handler.RouterConfig{
		Auth:              resolver,
		Conversations:     handler.NewConversationHandler(conversationSvc, log),
		Messages:          handler.NewMessageHandler(messageSvc, uploader, cfg.MaxUploadBytes, log),
		Notifications:     handler.NewNotificationHandler(notificationSvc, log),
		Health:            handler.NewHealthHandler(checks),
		Gateway:           gateway,
		Uploads:           uploader.Handler(),
		AllowedOrigins:    cfg.AllowedOrigins,
		RequestTimeout:    cfg.RequestTimeout,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		SendRateLimit:     cfg.SendRateLimit,
		SearchRateLimit:   cfg.SearchRateLimit,
		Logger:            log,
	})
	if cfg.TracingEnabled {
		h = otelhttp.NewHandler(h, serviceName)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      h,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout. Hijacked websocket connections are not
	// tracked by Shutdown, so the gateway closes them itself.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gateway.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	return nil
}
