package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventvax.app/relay/internal/http/handler"
	"eventvax.app/relay/internal/service"
)

type RouterConfig struct {
	Health       *handler.HealthHandler
	StatusStream *handler.StatusStreamHandler
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	if cfg.Health != nil {
		router.GET("/health", cfg.Health.Health)
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})
	}
	router.GET("/metrics", gin.WrapH(MetricsHandler()))

	v1 := router.Group("/api/v1")
	{
		issuanceHandler := handler.NewIssuanceHandler(services.Issuance())
		IssuanceRouter(v1.Group("/poap"), issuanceHandler, cfg.StatusStream)
	}
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
