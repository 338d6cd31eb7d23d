package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relay/chat-app/internal/chat"
	"github.com/relay/chat-app/internal/config"
	"github.com/relay/chat-app/internal/messaging"
	"github.com/relay/chat-app/internal/metrics"
	"github.com/relay/chat-app/internal/moderation"
	"github.com/relay/chat-app/internal/protocol"
	"github.com/relay/chat-app/internal/ratelimit"
	"github.com/relay/chat-app/internal/session"
	"github.com/relay/chat-app/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	serverName := cfg.ServerName
	if serverName == "" {
		serverName, _ = os.Hostname()
	}
	if serverName == "" {
		serverName = "relay-1"
	}

	wsConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	log.Printf("Relay chat server starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  metrics_addr:    %s", cfg.MetricsAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  read_timeout:    %s", cfg.ReadTimeout)
	log.Printf("  write_timeout:   %s", cfg.WriteTimeout)
	log.Printf("  server_name:     %s", serverName)

	registry := session.NewRegistry()
	filter := moderation.NewFilter()

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(wsConfig, dispatcher.Dispatch)

	room := chat.NewRoom(registry, server, filter)

	// --- Redis (optional): per-session message throttling ---
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		cancel()

		room.SetRateLimiter(ratelimit.NewLimiter(rdb, ratelimit.RuleMessage))
		log.Printf("  redis_addr:      %s (rate limiting enabled)", cfg.RedisAddr)
	}

	// --- NATS (optional): cross-instance broadcast relaying ---
	var bridge *messaging.Bridge
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = serverName

		bridge, err = messaging.NewBridge(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		if err := bridge.SubscribeFrames(room.DeliverFromPeer); err != nil {
			log.Fatalf("failed to subscribe to room events: %v", err)
		}

		room.SetBridge(bridge)
		log.Printf("  nats_url:        %s (bridge enabled)", cfg.NATSURL)
	}

	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		room.HandleMessage(conn.ID, chatMsg.Text)
	})

	dispatcher.Register(protocol.TypeSetUsername, func(conn *ws.Connection, msg interface{}) {
		renameMsg, ok := msg.(protocol.SetUsernameMsg)
		if !ok {
			return
		}
		room.HandleSetUsername(conn.ID, renameMsg.Username)
	})

	server.SetOnConnect(func(conn *ws.Connection) {
		room.HandleConnect(conn.ID)
	})

	server.SetOnDisconnect(func(connID string) {
		room.HandleDisconnect(connID)
	})

	// Prometheus metrics on a separate ops listener.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if bridge != nil {
			bridge.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
