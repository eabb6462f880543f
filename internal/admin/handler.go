package admin

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"abuseflow/internal/archive"
	"abuseflow/internal/broadcast"
	"abuseflow/internal/constants"
	"abuseflow/internal/dedup"
	"abuseflow/internal/ingest"
	"abuseflow/internal/logger"
	"abuseflow/internal/notify"
	"abuseflow/internal/ticket"
	pkgerrors "abuseflow/pkg/errors"
	"abuseflow/pkg/health"
)

// Handler exposes the operational surface of the pipeline: health, metrics,
// poller control, ticket queries, the notification audit trail, and a live
// event stream.
type Handler struct {
	poller      *ingest.Poller
	tickets     *ticket.Store
	notifier    *notify.Dispatcher
	ledger      *dedup.Ledger
	archive     archive.Repository
	broadcaster *broadcast.Broadcaster
	checkers    *health.CheckerRegistry
	logger      logger.Logger
}

func NewHandler(
	poller *ingest.Poller,
	tickets *ticket.Store,
	notifier *notify.Dispatcher,
	ledger *dedup.Ledger,
	archiveRepo archive.Repository,
	broadcaster *broadcast.Broadcaster,
	checkers *health.CheckerRegistry,
	log logger.Logger,
) *Handler {
	return &Handler{
		poller:      poller,
		tickets:     tickets,
		notifier:    notifier,
		ledger:      ledger,
		archive:     archiveRepo,
		broadcaster: broadcaster,
		checkers:    checkers,
		logger:      log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", h.Status)

		polling := v1.Group("/polling")
		{
			polling.POST("/start", h.StartPolling)
			polling.POST("/stop", h.StopPolling)
			polling.POST("/trigger", h.TriggerPoll)
		}

		tickets := v1.Group("/tickets")
		{
			tickets.GET("", h.ListTickets)
			tickets.GET("/:id", h.GetTicket)
			tickets.GET("/:id/notifications", h.ListNotifications)
		}

		v1.GET("/archive", h.ListArchived)
		v1.GET("/events", h.StreamEvents)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(pkgerrors.ToHTTPStatus(err), pkgerrors.ToErrorResponse(err))
}

func (h *Handler) Health(c *gin.Context) {
	result := h.checkers.Check(c.Request.Context())
	status := http.StatusOK
	if result.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

func (h *Handler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	ticketCounts, err := h.tickets.CountByStatus(ctx)
	if err != nil {
		h.handleError(c, err)
		return
	}

	notificationCounts, err := h.notifier.CountByStatus(ctx)
	if err != nil {
		h.handleError(c, err)
		return
	}

	ledgerSize, err := h.ledger.Size(ctx)
	if err != nil {
		h.logger.WarnwCtx(ctx, "Failed to read dedup ledger size", "error", err)
		ledgerSize = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"poller":        h.poller.Status(),
		"tickets":       ticketCounts,
		"notifications": notificationCounts,
		"dedup_entries": ledgerSize,
		"subscribers":   h.broadcaster.SubscriberCount(),
	})
}

func (h *Handler) StartPolling(c *gin.Context) {
	h.poller.Start()
	c.JSON(http.StatusOK, gin.H{"polling": "started"})
}

func (h *Handler) StopPolling(c *gin.Context) {
	h.poller.Stop()
	c.JSON(http.StatusOK, gin.H{"polling": "stopped"})
}

func (h *Handler) TriggerPoll(c *gin.Context) {
	if !h.poller.TriggerNow() {
		c.JSON(http.StatusConflict, gin.H{
			"error":      "poll cycle already in flight",
			"error_code": "POLL_IN_FLIGHT",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"polling": "triggered"})
}

func (h *Handler) ListTickets(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	tickets, err := h.tickets.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

func (h *Handler) GetTicket(c *gin.Context) {
	t, err := h.tickets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) ListNotifications(c *gin.Context) {
	records, err := h.notifier.ListByTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) ListArchived(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	docs, err := h.archive.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	// Raw bodies stay out of the listing; this is a metadata view.
	type archivedMessage struct {
		UID        uint32 `json:"uid"`
		MessageID  string `json:"message_id"`
		SizeBytes  int    `json:"size_bytes"`
		FetchedAt  string `json:"fetched_at"`
		ArchivedAt string `json:"archived_at"`
	}
	out := make([]archivedMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, archivedMessage{
			UID:        d.UID,
			MessageID:  d.MessageID,
			SizeBytes:  len(d.Raw),
			FetchedAt:  d.FetchedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			ArchivedAt: d.ArchivedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, out)
}

// StreamEvents pushes ticket events to the client as server-sent events until
// the client disconnects.
func (h *Handler) StreamEvents(c *gin.Context) {
	events, unsubscribe := h.broadcaster.Subscribe()
	defer unsubscribe()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("ticket", event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func parseLimit(raw string) int {
	limit := constants.DefaultLimit
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	return limit
}
