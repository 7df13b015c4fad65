package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes configures all API routes.
func SetupRoutes(handlers *Handlers, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware())
	router.Use(ErrorHandlerMiddleware(logger))
	router.Use(gin.Recovery())

	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/v1")
	{
		v1.GET("/pack", handlers.GetPack)
		v1.GET("/limits", handlers.GetLimits)
		v1.GET("/protection", handlers.GetProtection)

		commands := v1.Group("/commands")
		{
			commands.POST("/reset-soc", handlers.ResetSoC)
			commands.POST("/force-charging-off", handlers.ForceChargingOff)
			commands.POST("/force-discharging-off", handlers.ForceDischargingOff)
			commands.POST("/turn-balancing-off", handlers.TurnBalancingOff)
		}
	}

	return router
}
