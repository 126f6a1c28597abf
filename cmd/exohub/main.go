// Command exohub runs the inference coordination hub: node registry,
// task scheduler, liveness monitor, and handoff evaluator, exposed over
// HTTP. Wiring follows the teacher's harpoon-scheduler/main.go: parse
// flags/config, construct the long-lived components, start the HTTP
// listener in a goroutine, block on an interrupt signal.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/exostack/exohub/internal/config"
	"github.com/exostack/exohub/internal/core"
	"github.com/exostack/exohub/internal/httpapi"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}

	log := logrus.New()
	log.SetOutput(os.Stdout)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	h := core.New(core.Options{
		MaxAttempts:           cfg.MaxAttempts,
		OfflineThreshold:      cfg.OfflineThreshold,
		StalePendingThreshold: cfg.StalePendingThreshold,
		SweepInterval:         cfg.SweepInterval,
		NotificationCapacity:  cfg.NotificationCapacity,
		NotificationTTL:       cfg.NotificationTTL,
	}, log)
	h.Start()
	defer h.Stop()

	server := httpapi.New(h, log, 30*time.Second)
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler()}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-interrupt()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

func interrupt() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	return c
}
