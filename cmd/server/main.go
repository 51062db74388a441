package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AviOnlineSec/cra/internal/handler"
	"github.com/AviOnlineSec/cra/internal/middleware"
	"github.com/AviOnlineSec/cra/internal/mirror"
	"github.com/AviOnlineSec/cra/internal/notify"
	"github.com/AviOnlineSec/cra/internal/service"
	"github.com/AviOnlineSec/cra/internal/storage"
	"github.com/AviOnlineSec/cra/pkg/config"
	"github.com/AviOnlineSec/cra/pkg/database"
	"github.com/AviOnlineSec/cra/pkg/jwtutil"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	defer log.Sync()
	log.Info("Starting risk assessment service...", cfg.LogConfig()...)

	// Initialize database
	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	loc, err := time.LoadLocation(cfg.Report.TimeZone)
	if err != nil {
		log.Fatal("Failed to load time zone", zap.String("time_zone", cfg.Report.TimeZone), zap.Error(err))
	}

	jwt := jwtutil.NewJWTUtil(&cfg.JWT)

	store, err := storage.New(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize document storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}

	ext := mirror.New(cfg.ExternalDB, log)
	defer ext.Close()

	mailer := notify.NewMailer(cfg.Mail, cfg.Server.AllowedHosts)
	if !cfg.Mail.Enabled() {
		log.Warn("SMTP is not configured, account emails will not be sent")
	}

	sessionKey := []byte(cfg.Session.Secret)
	if len(sessionKey) == 0 {
		sessionKey = securecookie.GenerateRandomKey(32)
		log.Warn("SESSION_SECRET is empty, using a random key; active tenants reset on restart")
	}
	sessionStore := sessions.NewCookieStore(sessionKey)
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.Session.MaxAge,
		Secure:   cfg.Session.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	maxUpload := int64(cfg.Storage.MaxUploadMB) << 20
	tenants := service.NewTenantService(db)
	h := &handler.Handler{
		Identity:       service.NewIdentityService(db, jwt, mailer),
		Approvals:      service.NewApprovalService(db, mailer),
		Tenants:        tenants,
		Clients:        service.NewClientService(db, store, ext),
		Documents:      service.NewDocumentService(db, store, maxUpload),
		Catalog:        service.NewCatalogService(db),
		Assessments:    service.NewAssessmentService(db, ext),
		Reports:        service.NewReportService(db, loc),
		MaxUploadBytes: maxUpload,
	}
	resolver := middleware.NewTenantResolver(tenants, sessionStore, cfg.Session.Name, cfg.Tenant)

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()

	// Apply global middleware - order matters
	e.Pre(echomiddleware.RemoveTrailingSlash())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			cfg.Tenant.Header, "X-Company-ID", "X-Channel-ID",
			middleware.HeaderSignature, middleware.HeaderTimestamp, middleware.HeaderNonce, middleware.HeaderKeyID,
		},
		AllowCredentials: true,
	}))
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log, middleware.AccessLogFields))
	e.Use(prometheus.MetricsMiddleware())
	e.Use(middleware.SignatureMiddleware(cfg.Signature))

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck(db))
	e.GET("/metrics", handler.MetricsHandler)

	h.Routes(e, middleware.AuthMiddleware(jwt), resolver.Middleware())

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
}
