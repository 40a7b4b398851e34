package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"scriba/internal/recovery"
)

// RecoveryHandler triggers on-demand recovery passes.
type RecoveryHandler struct {
	scheduler *recovery.Scheduler
	log       *logrus.Entry
}

// NewRecoveryHandler creates a new RecoveryHandler.
func NewRecoveryHandler(scheduler *recovery.Scheduler, log *logrus.Entry) *RecoveryHandler {
	return &RecoveryHandler{scheduler: scheduler, log: log}
}

// Run kicks off a single recovery pass in the background and returns
// immediately. The periodic scheduler keeps running independently.
func (h *RecoveryHandler) Run(c echo.Context) error {
	go func() {
		if err := h.scheduler.RunOnce(context.Background()); err != nil {
			h.log.WithError(err).Error("On-demand recovery pass failed")
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "recovery started"})
}
