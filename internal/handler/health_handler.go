package handler

import (
	"net/http"
	"time"

	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthCheck reports service status. With ?check=db the database is pinged.
func HealthCheck(db *gorm.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)

		response := map[string]interface{}{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		}

		if c.QueryParam("check") == "db" {
			sqlDB, err := db.DB()
			if err != nil {
				log.Error("Database connection error", zap.Error(err))
				response["status"] = "error"
				response["db_status"] = "error"
				response["db_error"] = "Failed to get database connection"
				return c.JSON(http.StatusInternalServerError, response)
			}

			if err := sqlDB.PingContext(c.Request().Context()); err != nil {
				log.Error("Database ping error", zap.Error(err))
				response["status"] = "error"
				response["db_status"] = "error"
				response["db_error"] = "Failed to ping database"
				return c.JSON(http.StatusInternalServerError, response)
			}

			response["db_status"] = "ok"
		}

		return c.JSON(http.StatusOK, response)
	}
}

// MetricsHandler serves the Prometheus registry
func MetricsHandler(c echo.Context) error {
	prometheus.GetPrometheusHandler().ServeHTTP(c.Response(), c.Request())
	return nil
}
