package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deskwire/deskwire-client/internal/devserver"
	"github.com/deskwire/deskwire-client/pkg/env"
	"github.com/deskwire/deskwire-client/pkg/logging"
	"github.com/deskwire/deskwire-client/pkg/transport"
)

func main() {
	_ = godotenv.Load()

	if err := logging.InitServiceLogger(logging.NewDefaultConfig(logging.DevServerProcess)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logging.Shutdown()
	logger := logging.GetServiceLogger()

	addr := env.GetEnvString("DESKWIRE_DEVSERVER_ADDR", "127.0.0.1:7420")
	heartbeat := env.GetEnvDuration("DESKWIRE_DEVSERVER_HEARTBEAT", 15*time.Second)

	ds := devserver.New(logger)
	router := ds.Router()
	router.GET("/metrics", func(c *gin.Context) {
		promhttp.Handler().ServeHTTP(c.Writer, c.Request)
	})

	// Periodic dashboard broadcasts so a connected client has traffic to show.
	go func() {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for range ticker.C {
			if err := ds.Broadcast(transport.TypeDashboardUpdate, map[string]any{
				"sessions": ds.SessionCount(),
				"uptime":   time.Now().Unix(),
			}); err != nil {
				logger.Warnf("heartbeat broadcast failed: %v", err)
			}
		}
	}()

	go func() {
		logger.Infof("devserver listening on %s", addr)
		if err := router.Run(addr); err != nil {
			logger.Fatalf("devserver exited: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	ds.CloseSessions()
}
