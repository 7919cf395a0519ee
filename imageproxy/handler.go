package imageproxy

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves GET /api/images/*path. A nil proxy answers 404 for every
// path, which is how the route behaves when no upstream is configured.
type Handler struct {
	proxy  *Proxy
	logger *zap.Logger
}

func NewHandler(proxy *Proxy, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{proxy: proxy, logger: logger}
}

func (h *Handler) Serve(c *gin.Context) {
	if h.proxy == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image proxy disabled"})
		return
	}
	img, hit, err := h.proxy.Get(c.Request.Context(), c.Param("path"))
	switch {
	case errors.Is(err, ErrBadPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
		return
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	case errors.Is(err, ErrNotImage), errors.Is(err, ErrTooLarge):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Warn("image fetch failed", zap.String("path", c.Param("path")), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
		return
	}

	if hit {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.proxy.TTL().Seconds())))
	c.Data(http.StatusOK, img.ContentType, img.Body)
}
