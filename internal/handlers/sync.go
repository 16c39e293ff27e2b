package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"popdesk/internal/cache"
	"popdesk/internal/fever"
	"popdesk/internal/models"
	"popdesk/internal/notify"
	syncengine "popdesk/internal/sync"
)

// Syncer is the mailbox sync surface the HTTP layer drives.
type Syncer interface {
	Sync(ctx context.Context, fullBackfill bool) (*models.SyncResult, error)
	Status(ctx context.Context) (*models.SyncStatus, error)
}

// Sweeper runs the stale-ticket notification sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*notify.SweepResult, error)
}

// OrderSyncer pulls orders from the ticketing platform.
type OrderSyncer interface {
	SyncOrders(ctx context.Context, store fever.Store, window fever.SearchWindow) (*models.OrderSyncResult, error)
}

// JobLauncher starts and inspects the out-of-process backfill Job.
type JobLauncher interface {
	CreateBackfillJob(ctx context.Context, jobName, containerImage string) error
	JobStatus(ctx context.Context, jobName string) (string, error)
}

// SyncHandler triggers one mailbox sync pass. ?full=true ignores the
// incremental watermark. The ticket cache is cleared afterwards so the
// dashboard sees the new state immediately.
func SyncHandler(syncer Syncer, ticketCache *cache.Cache) echo.HandlerFunc {
	return func(c echo.Context) error {
		full := c.QueryParam("full") == "true"

		result, err := syncer.Sync(c.Request().Context(), full)
		if errors.Is(err, syncengine.ErrNotConfigured) {
			return c.JSON(http.StatusServiceUnavailable, models.SyncResponse{
				Error: "Mailbox sync is not configured",
			})
		}
		if err != nil {
			log.Error().Err(err).Msg("Sync failed")
			return c.JSON(http.StatusInternalServerError, models.SyncResponse{
				Error: err.Error(),
			})
		}

		ticketCache.Clear()

		return c.JSON(http.StatusOK, models.SyncResponse{Success: true, Result: result})
	}
}

// SyncStatusHandler returns the last-sync watermark and table counts.
func SyncStatusHandler(syncer Syncer, statusCache *cache.Cache) echo.HandlerFunc {
	return func(c echo.Context) error {
		if cached, ok := statusCache.Get("sync-status"); ok {
			return c.JSON(http.StatusOK, cached)
		}

		status, err := syncer.Status(c.Request().Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to load sync status")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{
				Error: "Failed to load sync status",
			})
		}

		statusCache.Set("sync-status", status, 15*time.Second)
		return c.JSON(http.StatusOK, status)
	}
}

// SweepHandler runs the stale-ticket notification sweep on demand.
func SweepHandler(sweeper Sweeper) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := sweeper.Sweep(c.Request().Context())
		if err != nil {
			log.Error().Err(err).Msg("Stale-ticket sweep failed")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{
				Error: err.Error(),
			})
		}
		return c.JSON(http.StatusOK, result)
	}
}

// OrderSyncHandler pulls orders from the ticketing platform into the local
// store. Optional date_from/date_to query parameters narrow the window.
func OrderSyncHandler(orders OrderSyncer, store fever.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if orders == nil {
			return c.JSON(http.StatusServiceUnavailable, models.ActionResponse{
				Error: "Order sync is not configured",
			})
		}

		window := fever.SearchWindow{
			DateFrom: c.QueryParam("date_from"),
			DateTo:   c.QueryParam("date_to"),
		}
		if window.DateFrom != "" || window.DateTo != "" {
			window.DateField = "CREATED_DATE_UTC"
		}

		result, err := orders.SyncOrders(c.Request().Context(), store, window)
		if err != nil {
			log.Error().Err(err).Msg("Order sync failed")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{
				Error: err.Error(),
			})
		}
		return c.JSON(http.StatusOK, result)
	}
}

// BackfillHandler launches the full-mailbox backfill as a Kubernetes Job.
func BackfillHandler(launcher JobLauncher, image string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if launcher == nil || image == "" {
			return c.JSON(http.StatusServiceUnavailable, models.ActionResponse{
				Error: "Backfill jobs are not configured",
			})
		}

		jobName := fmt.Sprintf("mailbox-backfill-%d", time.Now().Unix())
		if err := launcher.CreateBackfillJob(c.Request().Context(), jobName, image); err != nil {
			log.Error().Err(err).Str("job", jobName).Msg("Failed to create backfill job")
			return c.JSON(http.StatusInternalServerError, models.ActionResponse{
				Error: "Failed to create backfill job",
			})
		}

		log.Info().Str("job", jobName).Msg("Backfill job created")
		return c.JSON(http.StatusAccepted, models.ActionResponse{
			Success: true,
			Message: fmt.Sprintf("Backfill job %s created", jobName),
		})
	}
}

// BackfillStatusHandler reports the state of a previously launched backfill
// Job.
func BackfillStatusHandler(launcher JobLauncher) echo.HandlerFunc {
	return func(c echo.Context) error {
		if launcher == nil {
			return c.JSON(http.StatusServiceUnavailable, models.ActionResponse{
				Error: "Backfill jobs are not configured",
			})
		}

		jobName := c.Param("name")
		status, err := launcher.JobStatus(c.Request().Context(), jobName)
		if err != nil {
			log.Error().Err(err).Str("job", jobName).Msg("Failed to get job status")
			return c.JSON(http.StatusNotFound, models.ActionResponse{
				Error: "Job not found",
			})
		}

		return c.JSON(http.StatusOK, map[string]string{"job": jobName, "status": status})
	}
}
