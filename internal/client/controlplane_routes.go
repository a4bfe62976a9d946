package client

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/photosync/internal/client/handlers"
	"github.com/openmined/photosync/internal/client/middleware"
	"github.com/openmined/photosync/internal/version"
)

type RouteConfig struct {
	Auth      string
	RateLimit int64
	WatchDir  string
}

func SetupRoutes(engine handlers.Engine, routeConfig *RouteConfig) http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	statusH := handlers.NewStatusHandler(engine, routeConfig.WatchDir)
	syncH := handlers.NewSyncHandler(engine)

	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(middleware.RateLimit(routeConfig.RateLimit))

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(middleware.TokenAuthConfig{Token: routeConfig.Auth}))
	{
		v1.GET("/status", statusH.Status)
		v1.POST("/sync", syncH.Now)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Detailed())
}

func HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
