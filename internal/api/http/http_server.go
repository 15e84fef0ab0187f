package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/olyamironova/matching-core/internal/api/dto"
	"github.com/olyamironova/matching-core/internal/core"
	"github.com/olyamironova/matching-core/internal/engine"
	"github.com/olyamironova/matching-core/internal/logger"
	"github.com/olyamironova/matching-core/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type HTTPServer struct {
	Eng      *core.Engine
	log      *zap.Logger
	limiter  *middleware.RateLimiter
	gatherer prometheus.Gatherer
}

type Option func(*HTTPServer)

func WithLogger(l *zap.Logger) Option { return func(s *HTTPServer) { s.log = l } }

func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(s *HTTPServer) { s.limiter = rl }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *HTTPServer) { s.gatherer = g } }

func NewHTTPServer(eng *core.Engine, opts ...Option) *HTTPServer {
	s := &HTTPServer{Eng: eng, log: zap.NewNop(), gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestLogger(s.log),
		middleware.Recover(s.log),
		cors.Default(),
	)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/")
	if s.limiter != nil {
		api.Use(s.limiter.Middleware())
	}
	api.POST("/markets", s.addMarket)
	api.GET("/markets", s.listMarkets)
	api.POST("/orders/limit", s.placeLimitOrder)
	api.POST("/orders/market", s.submitMarketOrder)
	api.GET("/orders/:id/trades", s.getTrades)
	api.GET("/orderbook", s.getOrderbook)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrMarketExists):
		return http.StatusConflict
	case errors.Is(err, dto.ErrBadRequest), errors.Is(err, core.ErrInvalidOrder):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context(), s.log).Error("request failed", zap.Error(err))
	}
	c.JSON(code, dto.ErrorResponse{Error: err.Error()})
}

func (s *HTTPServer) addMarket(c *gin.Context) {
	var req dto.CreateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	pair, err := req.Validate()
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.Eng.AddMarket(c.Request.Context(), pair); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.MarketResponse{Market: pair.String()})
}

func (s *HTTPServer) listMarkets(c *gin.Context) {
	pairs := s.Eng.Markets()
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.String()
	}
	c.JSON(http.StatusOK, dto.ListMarketsResponse{Markets: out})
}

func (s *HTTPServer) placeLimitOrder(c *gin.Context) {
	var req dto.PlaceLimitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	lo, err := req.Validate()
	if err != nil {
		s.fail(c, err)
		return
	}
	o, err := s.Eng.PlaceLimitOrder(c.Request.Context(), lo.Pair, lo.Side, lo.Price, lo.Size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromOrder(lo.Pair, lo.Price, o))
}

func (s *HTTPServer) submitMarketOrder(c *gin.Context) {
	var req dto.MarketOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	mo, err := req.Validate()
	if err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.Eng.SubmitMarketOrder(c.Request.Context(), mo.Pair, mo.Side, mo.Size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromMarketResult(res.Order, res.Trades))
}

func (s *HTTPServer) getTrades(c *gin.Context) {
	trades, err := s.Eng.GetTradesForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.GetTradesResponse{Trades: dto.FromTrades(trades)})
}

func (s *HTTPServer) getOrderbook(c *gin.Context) {
	var req dto.GetOrderbookRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	pair, err := dto.ParseMarket(req.Market)
	if err != nil {
		s.fail(c, err)
		return
	}
	snap, err := s.Eng.GetOrderbook(c.Request.Context(), pair, req.Depth)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromSnapshot(snap))
}
