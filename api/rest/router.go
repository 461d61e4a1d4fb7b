package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guildsync/config"
	mw "github.com/kasuganosora/guildsync/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handlers bundles every handler the router mounts.
type Handlers struct {
	Guilds     *GuildHandler
	Characters *CharacterHandler
	Admin      *AdminHandler
}

// NewRouter builds the gin engine. Reads are public; anything that changes
// state sits behind AdminAuth and the admin IP whitelist.
func NewRouter(cfg *config.Config, h Handlers, logger *zap.Logger) *gin.Engine {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		mw.TraceID(),
		mw.Logger(logger, "/health"),
		mw.Recovery(logger),
		mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst, "/health"),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/guilds", h.Guilds.List)
	api.GET("/guilds/:id", h.Guilds.Detail)
	api.GET("/guilds/:id/members", h.Guilds.Members)
	api.GET("/guilds/:id/ranks", h.Guilds.Ranks)
	api.GET("/characters/toy-clusters", h.Characters.ToyClusters)
	api.GET("/characters/:id", h.Characters.Detail)

	guarded := api.Group("", mw.IPWhitelist(cfg.Server.AdminIPs), AdminAuth(cfg.Server.AdminKey))
	guarded.POST("/guilds", h.Guilds.Create)
	guarded.PUT("/guilds/:id/ranks/:rank_id", h.Guilds.RenameRank)
	guarded.PUT("/guilds/:id/sync", h.Guilds.SetSync)
	guarded.PUT("/characters/:id/link", h.Characters.Link)

	admin := api.Group("/admin", mw.IPWhitelist(cfg.Server.AdminIPs), AdminAuth(cfg.Server.AdminKey))
	admin.POST("/sync", h.Admin.StartSync)
	admin.GET("/runs", h.Admin.ListRuns)
	admin.GET("/runs/:run_id", h.Admin.RunEvents)
	admin.GET("/scheduler", h.Admin.SchedulerStatus)

	return r
}
