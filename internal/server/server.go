package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"retail-integration/internal/apperr"
	"retail-integration/internal/config"
	"retail-integration/internal/dedupe"
	"retail-integration/internal/dto"
	"retail-integration/internal/errsink"
	"retail-integration/internal/handler"
	"retail-integration/internal/middleware"
	"retail-integration/internal/service"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	smsRate     = 10
	defaultRate = 5
)

type Server struct {
	echo     *echo.Echo
	webhooks *handler.WebhookHandler
	cfg      *config.Config
	sink     errsink.Sink
	logger   *slog.Logger
}

func NewServer(cfg *config.Config, queue service.Enqueuer, dd dedupe.Deduper, sink errsink.Sink, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		webhooks: handler.NewWebhookHandler(queue, dd, logger),
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(echomw.RequestLogger())
	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		DisablePrintStack: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.sink.RecordPanic(c.Request().Context(), "gateway."+c.Path(), err)
			return recovered{err}
		},
	}))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")
	api.GET("/health", s.webhooks.Health)

	shopify := api.Group("/shopify", limit(defaultRate), middleware.ShopifyHMAC(s.cfg.Shopify.WebhookSecret))
	shopify.POST("/order-create", s.webhooks.OrderCreated)
	shopify.POST("/order-update", s.webhooks.OrderUpdated)
	shopify.POST("/refund-create", s.webhooks.RefundCreated)
	shopify.POST("/draft-create", s.webhooks.DraftCreated)
	shopify.POST("/draft-update", s.webhooks.DraftUpdated)

	marketing := api.Group("/marketing", limit(defaultRate), middleware.MarketingHMAC(s.cfg.Marketing.Secret))
	marketing.POST("/design-lead", s.webhooks.DesignLead)
	marketing.POST("/sync", s.webhooks.SyncOnDemand)

	api.POST("/sms", s.webhooks.InboundSMS,
		limit(smsRate),
		middleware.TwilioSignature(s.cfg.Twilio.AuthToken, s.cfg.Twilio.WebhookURL))
}

// limit allows perSecond requests per route with an equal burst.
func limit(perSecond int) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:  rate.Limit(perSecond),
		Burst: perSecond,
	})
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.Path(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "Forbidden"})
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: "Too Many Requests"})
		},
	})
}

// recovered marks a panic the sink already holds.
type recovered struct{ error }

func (r recovered) Unwrap() error { return r.error }

// handleError maps handler errors to the gateway's JSON error bodies. Only
// server-side failures reach the error sink.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := apperr.HTTPStatus(err)
	msg := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		var r recovered
		if !errors.As(err, &r) {
			s.sink.Record(c.Request().Context(), "gateway."+c.Path(), err)
		}
		status, msg = http.StatusInternalServerError, "Internal Server Error"
	} else {
		s.logger.Warn("webhook rejected", "path", c.Path(), "status", status, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, dto.ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Error("write error response", "error", err)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	err := s.echo.Start(address)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
