package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-leadrelay/core"
	"github.com/goliatone/go-leadrelay/webhooks"
	glog "github.com/goliatone/go-logger/glog"
)

// Relay is the part of the relay service the HTTP surface calls.
type Relay interface {
	ReceiveLead(ctx context.Context, req core.InboundRequest) (core.LeadResult, error)
	PendingLeads(ctx context.Context) ([]core.QueuedLead, error)
	RetryPending(ctx context.Context) (core.DrainResult, error)
	PurgePending(ctx context.Context, id string) error
	Health(ctx context.Context) core.HealthStatus
	MapError(err error) *goerrors.Error
}

type Options struct {
	WebhookPath  string
	MaxBodyBytes int64
	Debug        bool
	MetricsPath  string
	Metrics      http.Handler
	Logger       glog.Logger
	Now          func() time.Time
}

// OptionsFromConfig derives router options from the runtime config.
func OptionsFromConfig(cfg core.Config) Options {
	opts := Options{
		WebhookPath:  cfg.Webhook.Path,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Debug:        cfg.Debug,
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	return opts
}

type handlers struct {
	relay  Relay
	opts   Options
	logger glog.Logger
}

// NewRouter wires the webhook, queue, and health endpoints. The gin mode is
// left to the caller.
func NewRouter(relay Relay, opts Options) (*gin.Engine, error) {
	if relay == nil {
		return nil, core.NewConfigError("httpapi: relay is required")
	}
	if strings.TrimSpace(opts.WebhookPath) == "" {
		opts.WebhookPath = core.DefaultConfig().Webhook.Path
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &handlers{relay: relay, opts: opts, logger: glog.Ensure(opts.Logger)}

	r := gin.New()
	r.Use(gin.Recovery())

	r.POST(opts.WebhookPath, h.receiveLead)
	r.GET("/pending-leads", h.pendingLeads)
	r.DELETE("/pending-leads/:id", h.purgePending)
	r.GET("/retry-pending", h.retryPending)
	r.GET("/health", h.health)

	if opts.Metrics != nil && strings.TrimSpace(opts.MetricsPath) != "" {
		r.GET(opts.MetricsPath, gin.WrapH(opts.Metrics))
	}
	return r, nil
}

func (h *handlers) receiveLead(c *gin.Context) {
	req, err := webhooks.ReadRequest(c.Request, h.opts.MaxBodyBytes, h.opts.Now())
	if err != nil {
		if errors.Is(err, webhooks.ErrBodyTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		h.fail(c, core.NewValidationError("body", "request body could not be read"))
		return
	}

	result, err := h.relay.ReceiveLead(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	switch result.Outcome {
	case core.LeadOutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{"message": result.Message, "duplicate": true})
	case core.LeadOutcomeQueued:
		c.JSON(http.StatusOK, gin.H{"message": result.Message, "queued": true, "queueId": result.QueueID})
	default:
		c.JSON(http.StatusOK, gin.H{"message": result.Message, "zohoLeadId": result.CRMRecordID})
	}
}

func (h *handlers) pendingLeads(c *gin.Context) {
	pending, err := h.relay.PendingLeads(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if pending == nil {
		pending = []core.QueuedLead{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(pending), "pending": pending})
}

func (h *handlers) retryPending(c *gin.Context) {
	result, err := h.relay.RetryPending(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     result.Attempted,
		"success":   result.Succeeded,
		"failed":    result.Failed,
		"remaining": result.Remaining,
	})
}

func (h *handlers) purgePending(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.relay.PurgePending(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pending lead removed", "id": id})
}

func (h *handlers) health(c *gin.Context) {
	status := h.relay.Health(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":    status.Status,
		"timestamp": status.Timestamp.UTC().Format(time.RFC3339Nano),
		"uptime":    status.Uptime.Seconds(),
	})
}

// fail writes the mapped error envelope. Server side failures hide the cause
// unless debug is on.
func (h *handlers) fail(c *gin.Context, err error) {
	mapped := h.relay.MapError(err)
	if mapped == nil {
		mapped = goerrors.New("unexpected error", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ErrorInternal)
	}
	status := mapped.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	body := gin.H{"code": mapped.TextCode}
	if status >= http.StatusInternalServerError {
		body["error"] = "Internal server error"
		if h.opts.Debug {
			body["details"] = err.Error()
		}
		h.logger.Error("request failed", "path", c.FullPath(), "status", status, "code", mapped.TextCode, "error", err.Error())
	} else {
		body["error"] = mapped.Message
		if validation := mapped.AllValidationErrors(); len(validation) > 0 {
			fields := make([]gin.H, 0, len(validation))
			for _, item := range validation {
				fields = append(fields, gin.H{"field": item.Field, "message": item.Message})
			}
			body["fields"] = fields
		}
	}
	c.AbortWithStatusJSON(status, body)
}
