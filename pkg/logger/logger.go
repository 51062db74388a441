package logger

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AviOnlineSec/cra/pkg/config"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// New builds a logger for the configured environment. Production writes JSON
// with ISO8601 timestamps, anything else writes coloured console output.
func New(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if cfg.Server.Env == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build(zap.Fields(
		zap.String("service", "cra"),
		zap.String("environment", cfg.Server.Env),
	))
}

// InitLogger builds the process logger and installs it as the zap global
func InitLogger(cfg *config.Config) {
	l, err := New(cfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log = l
	zap.ReplaceGlobals(log)
	log.Info("Logger initialized", zap.String("level", log.Level().String()))
}

// GetLogger returns the process logger, or a no-op logger before InitLogger
func GetLogger() *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// FieldFunc contributes request fields, such as the acting user and tenant,
// to the access log once the handler chain has run
type FieldFunc func(c echo.Context) []zap.Field

// quietPaths are probed often and logged at debug level
var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// Middleware writes one access log line per request. The route template is
// logged instead of the raw path so ids do not fan out log cardinality.
func Middleware(base *zap.Logger, extra ...FieldFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			requestID := req.Header.Get(RequestIDKey)
			if requestID == "" {
				requestID = c.Response().Header().Get(RequestIDKey)
			}
			reqLog := base.With(zap.String("request_id", requestID))
			Attach(c, reqLog)

			err := next(c)

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := statusOf(c, err)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", c.RealIP()),
			}
			if ua := req.UserAgent(); ua != "" {
				fields = append(fields, zap.String("user_agent", ua))
			}
			for _, f := range extra {
				fields = append(fields, f(c)...)
			}

			switch {
			case status >= http.StatusInternalServerError:
				if err != nil {
					fields = append(fields, zap.Error(err))
				}
				reqLog.Error("HTTP request failed", fields...)
			case status >= http.StatusBadRequest:
				reqLog.Warn("HTTP request rejected", fields...)
			case quietPaths[strings.TrimSuffix(req.URL.Path, "/")]:
				reqLog.Debug("HTTP request completed", fields...)
			default:
				reqLog.Info("HTTP request completed", fields...)
			}
			return err
		}
	}
}

// statusOf returns the status the client will see. An error returned up the
// chain has not been written yet, so its code wins over the recorder.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if c.Response().Committed {
		return c.Response().Status
	}
	return http.StatusInternalServerError
}
