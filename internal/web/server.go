package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stocker/internal/dashboard"
	"github.com/vadiminshakov/stocker/internal/domain"
	"github.com/vadiminshakov/stocker/internal/services/balance"
)

const heartbeatInterval = 30 * time.Second

// Dashboard is the part of the dashboard controller the HTTP surface drives.
type Dashboard interface {
	View() dashboard.ViewState
	Watch(ctx context.Context) <-chan dashboard.ViewState
	SetSymbol(ctx context.Context, symbol string) error
	SetInterval(ctx context.Context, interval domain.Interval) error
	Buy(ctx context.Context, symbol string, amount decimal.Decimal) (dashboard.OrderReceipt, error)
	Sell(ctx context.Context, symbol string, amount decimal.Decimal) (dashboard.OrderReceipt, error)
	LoadScriptResult(ctx context.Context, result domain.TradeResult) (balance.ScriptSummary, error)
	SelectResultTab(ctx context.Context, tab balance.Tab) error
}

// Server exposes the dashboard as a JSON API, an SSE view stream and a small HTML page.
type Server struct {
	Addr      string
	Dashboard Dashboard
	logger    *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, d Dashboard, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, Dashboard: d, logger: logger}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/", s.handleIndex)

	api := r.Group("/api")
	api.GET("/view", s.handleView)
	api.GET("/view/stream", s.handleViewStream)
	api.POST("/symbol", s.handleSymbol)
	api.POST("/interval", s.handleInterval)
	api.POST("/orders", s.handleOrder)

	scripts := api.Group("/script-results")
	scripts.POST("", s.handleScriptResult)
	scripts.PUT("/tab", s.handleScriptTab)

	return r
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

type intervalRequest struct {
	Interval string `json:"interval"`
}

type orderRequest struct {
	Side   dashboard.Side  `json:"side"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

type tabRequest struct {
	Tab string `json:"tab"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (s *Server) handleView(c *gin.Context) {
	c.JSON(http.StatusOK, s.Dashboard.View())
}

func (s *Server) handleViewStream(c *gin.Context) {
	ctx := c.Request.Context()
	views := s.Dashboard.Watch(ctx)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// comment heartbeat keeps proxies from closing an idle stream
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		case view, ok := <-views:
			if !ok {
				return
			}
			c.SSEvent("view", view)
			c.Writer.Flush()
		}
	}
}

func (s *Server) handleSymbol(c *gin.Context) {
	var req symbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.Dashboard.SetSymbol(c.Request.Context(), req.Symbol); err != nil {
		s.fail(c, "set symbol", err)
		return
	}
	c.JSON(http.StatusOK, s.Dashboard.View())
}

func (s *Server) handleInterval(c *gin.Context) {
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	interval, err := domain.ParseInterval(req.Interval)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.Dashboard.SetInterval(c.Request.Context(), interval); err != nil {
		s.fail(c, "set interval", err)
		return
	}
	c.JSON(http.StatusOK, s.Dashboard.View())
}

func (s *Server) handleOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	var (
		receipt dashboard.OrderReceipt
		err     error
	)
	switch req.Side {
	case dashboard.SideBuy:
		receipt, err = s.Dashboard.Buy(c.Request.Context(), req.Symbol, req.Amount)
	case dashboard.SideSell:
		receipt, err = s.Dashboard.Sell(c.Request.Context(), req.Symbol, req.Amount)
	default:
		writeError(c, http.StatusBadRequest, errors.Errorf("unknown order side %q", req.Side))
		return
	}
	if err != nil {
		s.fail(c, "order", err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (s *Server) handleScriptResult(c *gin.Context) {
	var result domain.TradeResult
	if err := c.ShouldBindJSON(&result); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	summary, err := s.Dashboard.LoadScriptResult(c.Request.Context(), result)
	if err != nil {
		s.fail(c, "load script result", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleScriptTab(c *gin.Context) {
	var req tabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	tab, err := balance.ParseTab(req.Tab)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.Dashboard.SelectResultTab(c.Request.Context(), tab); err != nil {
		s.fail(c, "select result tab", err)
		return
	}
	c.JSON(http.StatusOK, s.Dashboard.View())
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("op", op), zap.Error(err))
	}
	writeError(c, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientHoldings),
		errors.Is(err, dashboard.ErrNoScriptResult):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPriceUnavailable),
		errors.Is(err, dashboard.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
