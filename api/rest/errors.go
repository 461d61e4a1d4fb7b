package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/guildsync/middleware"
	"github.com/kasuganosora/guildsync/store"
	"go.uber.org/zap"
)

func internalError(c *gin.Context, log *zap.Logger, op string, err error) {
	log.Error(op+" failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("trace_id", mw.GetTraceID(c)),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// storeError writes 404 for store.ErrNotFound and 500 otherwise.
func storeError(c *gin.Context, log *zap.Logger, op, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	internalError(c, log, op, err)
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
