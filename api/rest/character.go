package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/guildsync/store"
	"go.uber.org/zap"
)

// CharacterHandler handles character REST endpoints.
type CharacterHandler struct {
	st     *store.Store
	logger *zap.Logger
}

// NewCharacterHandler creates a new CharacterHandler.
func NewCharacterHandler(st *store.Store, logger *zap.Logger) *CharacterHandler {
	return &CharacterHandler{st: st, logger: logger}
}

// Detail handles GET /api/characters/:id.
func (h *CharacterHandler) Detail(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ch, err := h.st.Characters.FindByID(c.Request.Context(), id)
	if err != nil {
		storeError(c, h.logger, "character detail", "character", err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// ToyClusters handles GET /api/characters/toy-clusters?include_empty=true.
func (h *CharacterHandler) ToyClusters(c *gin.Context) {
	includeEmpty, _ := strconv.ParseBool(c.Query("include_empty"))
	clusters, err := h.st.Characters.ToyClusters(c.Request.Context(), includeEmpty)
	if err != nil {
		internalError(c, h.logger, "toy clusters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
}

type linkRequest struct {
	UserID *int64 `json:"user_id"`
}

// Link handles PUT /api/characters/:id/link. A null user_id unlinks.
func (h *CharacterHandler) Link(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if req.UserID != nil {
		if _, err := h.st.Users.FindByID(ctx, *req.UserID); err != nil {
			storeError(c, h.logger, "link character", "user", err)
			return
		}
	}
	if err := h.st.Characters.Link(ctx, id, req.UserID); err != nil {
		storeError(c, h.logger, "link character", "character", err)
		return
	}
	ch, err := h.st.Characters.FindByID(ctx, id)
	if err != nil {
		storeError(c, h.logger, "link character", "character", err)
		return
	}
	c.JSON(http.StatusOK, ch)
}
