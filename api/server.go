// Package api exposes the desk's verbs over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Aidin1998/otcdesk/api/responses"
	"github.com/Aidin1998/otcdesk/internal/clients"
	"github.com/Aidin1998/otcdesk/internal/compliance"
	"github.com/Aidin1998/otcdesk/internal/credit"
	"github.com/Aidin1998/otcdesk/internal/custody"
	"github.com/Aidin1998/otcdesk/internal/otc"
	"github.com/Aidin1998/otcdesk/internal/settlement"
	"github.com/Aidin1998/otcdesk/pkg/validation"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var registerOnce sync.Once

// Services are the domain services the API serves. Deposits and Sweeper are
// optional; their routes answer 404 when nil.
type Services struct {
	DB          *gorm.DB
	Clients     *clients.Service
	Desk        *otc.Desk
	Settlements *settlement.Orchestrator
	Credit      *credit.Ledger
	Compliance  *compliance.Gate
	Custody     *custody.Service
	Deposits    *custody.Deposits
	Sweeper     *custody.Sweeper
}

// Server represents the API server
type Server struct {
	router *gin.Engine
	logger *zap.Logger
	svc    Services
}

// NewServer builds the router with logging, recovery, tracing and CORS
// middleware and registers every route.
func NewServer(svc Services, logger *zap.Logger) *Server {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			if err := validation.Register(v); err != nil {
				logger.Error("failed to register request validators", zap.Error(err))
			}
		}
	})

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("otcdesk-api"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Trace-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{router: router, logger: logger, svc: svc}
	s.registerRoutes()
	return s
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves on addr until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Stopping API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")

	cl := v1.Group("/clients")
	{
		cl.POST("", s.createClient)
		cl.GET("/:id", s.getClient)
		cl.PUT("/:id/tier", s.updateClientTier)
		cl.POST("/:id/deactivate", s.deactivateClient)
		cl.POST("/:id/instructions", s.addInstruction)
		cl.GET("/:id/instructions", s.listInstructions)
	}
	in := v1.Group("/instructions")
	{
		in.GET("/:id", s.getInstruction)
		in.POST("/:id/verify", s.verifyInstruction)
		in.POST("/:id/default", s.setDefaultInstruction)
	}

	deals := v1.Group("/deals")
	{
		deals.POST("", s.createDeal)
		deals.GET("", s.listDeals)
		deals.GET("/:id", s.getDeal)
		deals.POST("/:id/match", s.matchDeal)
		deals.POST("/:id/cancel", s.cancelDeal)
	}
	quotes := v1.Group("/quotes")
	{
		quotes.POST("", s.requestQuote)
		quotes.GET("/:id", s.getQuote)
		quotes.POST("/:id/price", s.priceQuote)
		quotes.POST("/:id/accept", s.acceptQuote)
		quotes.POST("/:id/cancel", s.cancelQuote)
	}
	blocks := v1.Group("/block-trades")
	{
		blocks.POST("", s.createBlockTrade)
		blocks.GET("/:id", s.getBlockTrade)
		blocks.POST("/:id/execute", s.executeBlockTrade)
	}
	pools := v1.Group("/pools")
	{
		pools.POST("", s.createPool)
		pools.GET("", s.listPools)
		pools.GET("/:id", s.getPool)
	}
	v1.POST("/pricing/strategy", s.executionStrategy)

	st := v1.Group("/settlements")
	{
		st.POST("", s.initiateSettlement)
		st.GET("", s.listSettlements)
		st.GET("/:id", s.getSettlement)
		st.POST("/:id/process", s.processSettlement)
		st.POST("/:id/confirm", s.confirmSettlement)
		st.POST("/:id/fail", s.failSettlement)
	}

	cr := v1.Group("/credit/:client_id")
	{
		cr.GET("", s.creditUtilization)
		cr.POST("/extend", s.extendCredit)
	}

	co := v1.Group("/compliance")
	{
		co.POST("/check", s.checkCompliance)
		co.POST("/verify", s.verifyUser)
		co.POST("/sanctions", s.addSanction)
	}

	cu := v1.Group("/custody")
	{
		cu.POST("/whitelist", s.whitelistAddress)
		cu.GET("/whitelist/:client_id", s.listWhitelist)
		cu.DELETE("/whitelist/:client_id/:currency/:address", s.removeWhitelistAddress)

		cu.POST("/withdrawals", s.createWithdrawal)
		cu.GET("/withdrawals", s.listWithdrawals)
		cu.GET("/withdrawals/:id", s.getWithdrawal)
		cu.POST("/withdrawals/:id/approve", s.approveWithdrawal)
		cu.POST("/withdrawals/:id/reject", s.rejectWithdrawal)

		cu.POST("/signers", s.addSigner)
		cu.GET("/signers", s.listSigners)
		cu.DELETE("/signers/:id", s.deactivateSigner)

		cu.GET("/accounts/:client_id", s.listCustodyAccounts)
		cu.GET("/wallets", s.walletBalances)
		cu.GET("/sweeps", s.listSweeps)
		cu.POST("/sweeps", s.runSweep)

		cu.POST("/deposits", s.registerDeposit)
		cu.GET("/deposits/:id", s.getDeposit)
	}
}

// bind decodes the JSON body into req and renders a problem on failure.
func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		responses.Error(c, validation.Errors(err))
		return false
	}
	return true
}

func (s *Server) writeError(c *gin.Context, err error) {
	responses.Error(c, err)
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "time": time.Now().UTC()}
	if s.svc.DB != nil {
		sqlDB, err := s.svc.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
	}
	c.JSON(status, body)
}
