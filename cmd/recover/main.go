// Command recover runs a single recovery pass against the job store and
// exits. Useful from cron or an operator shell when the service itself is
// down; reset jobs are picked up by the server's worker on its next poll.
package main

import (
	"context"
	"time"

	"scriba/internal/config"
	"scriba/internal/logger"
	"scriba/internal/messaging"
	"scriba/internal/recovery"
	"scriba/internal/storage"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	jobs := storage.NewJobRepository(db)

	provider, err := messaging.New(cfg.Messaging.DefaultProvider, cfg.Messaging, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build messaging provider")
	}

	scheduler := recovery.NewScheduler(jobs, provider, nil, cfg.Recovery, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := scheduler.RunOnce(ctx); err != nil {
		log.WithError(err).Fatal("Recovery pass failed")
	}
	log.Info("Recovery pass complete")
}
