package rest

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guildsync/model"
	"github.com/kasuganosora/guildsync/store"
	"go.uber.org/zap"
)

// GuildHandler handles guild REST endpoints.
type GuildHandler struct {
	st     *store.Store
	logger *zap.Logger
}

// NewGuildHandler creates a new GuildHandler.
func NewGuildHandler(st *store.Store, logger *zap.Logger) *GuildHandler {
	return &GuildHandler{st: st, logger: logger}
}

// List handles GET /api/guilds?region=eu&exclude_from_sync=false.
func (h *GuildHandler) List(c *gin.Context) {
	var f model.GuildFilter
	f.Region = c.Query("region")
	if v, ok := c.GetQuery("exclude_from_sync"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exclude_from_sync"})
			return
		}
		f.ExcludeFromSync = &b
	}
	guilds, err := h.st.Guilds.FindAll(c.Request.Context(), f)
	if err != nil {
		internalError(c, h.logger, "list guilds", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guilds": guilds, "count": len(guilds)})
}

type createGuildRequest struct {
	Name   string `json:"name"   binding:"required,max=64"`
	Realm  string `json:"realm"  binding:"required,max=64"`
	Region string `json:"region" binding:"required,max=8"`
}

// Create handles POST /api/guilds. Registering an existing guild returns
// the stored row with 200.
func (h *GuildHandler) Create(c *gin.Context) {
	var req createGuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g := &model.Guild{
		Name:   strings.TrimSpace(req.Name),
		Realm:  strings.TrimSpace(req.Realm),
		Region: strings.TrimSpace(req.Region),
	}
	created, err := h.st.Guilds.Create(c.Request.Context(), g)
	if err != nil {
		internalError(c, h.logger, "create guild", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("guild registered",
			zap.Int64("guild_id", g.ID),
			zap.String("name", g.Name),
			zap.String("realm", g.Realm),
			zap.String("region", g.Region))
	}
	c.JSON(status, g)
}

// Detail handles GET /api/guilds/:id.
func (h *GuildHandler) Detail(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	g, err := h.st.Guilds.FindByID(c.Request.Context(), id)
	if err != nil {
		storeError(c, h.logger, "guild detail", "guild", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// Members handles GET /api/guilds/:id/members?include_left=true.
func (h *GuildHandler) Members(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	includeLeft, _ := strconv.ParseBool(c.Query("include_left"))
	ctx := c.Request.Context()
	if _, err := h.st.Guilds.FindByID(ctx, id); err != nil {
		storeError(c, h.logger, "guild members", "guild", err)
		return
	}
	members, err := h.st.Members.ListByGuild(ctx, id, includeLeft)
	if err != nil {
		internalError(c, h.logger, "guild members", err)
		return
	}
	if members == nil {
		members = []store.MemberView{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
}

// Ranks handles GET /api/guilds/:id/ranks.
func (h *GuildHandler) Ranks(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.st.Guilds.FindByID(ctx, id); err != nil {
		storeError(c, h.logger, "guild ranks", "guild", err)
		return
	}
	ranks, err := h.st.Ranks.FindAllByGuildID(ctx, id)
	if err != nil {
		internalError(c, h.logger, "guild ranks", err)
		return
	}
	if ranks == nil {
		ranks = []model.GuildRank{}
	}
	c.JSON(http.StatusOK, gin.H{"ranks": ranks})
}

type renameRankRequest struct {
	Name string `json:"name" binding:"required,max=64"`
}

// RenameRank handles PUT /api/guilds/:id/ranks/:rank_id.
func (h *GuildHandler) RenameRank(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rankID, err := strconv.Atoi(c.Param("rank_id"))
	if err != nil || rankID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rank_id"})
		return
	}
	var req renameRankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is empty"})
		return
	}
	ctx := c.Request.Context()
	if _, err := h.st.Guilds.FindByID(ctx, id); err != nil {
		storeError(c, h.logger, "rename rank", "guild", err)
		return
	}
	rk, err := h.st.Ranks.Rename(ctx, id, rankID, name)
	if err != nil {
		internalError(c, h.logger, "rename rank", err)
		return
	}
	c.JSON(http.StatusOK, rk)
}

type setSyncRequest struct {
	Exclude *bool `json:"exclude" binding:"required"`
}

// SetSync handles PUT /api/guilds/:id/sync.
func (h *GuildHandler) SetSync(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req setSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.st.Guilds.SetExcludeFromSync(c.Request.Context(), id, *req.Exclude); err != nil {
		storeError(c, h.logger, "set guild sync", "guild", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "exclude_from_sync": *req.Exclude})
}
