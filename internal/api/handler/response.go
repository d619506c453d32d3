package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// respondDomainError maps a service error onto the envelope. Errors outside
// the domain taxonomy become a 500 carrying fallback, never the raw message.
func respondDomainError(c *gin.Context, err error, fallback string) {
	code := domain.ErrorCode(err)
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		respondError(c, http.StatusPaymentRequired, code, err.Error())
	case errors.Is(err, domain.ErrFaucetCooldown):
		respondError(c, http.StatusTooManyRequests, code, err.Error())
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, code, err.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, code, err.Error())
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, code, err.Error())
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, code, fallback)
	}
}

// ── helpers ──────────────────────────────────────────────────────────────────

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}

// marketIDParam parses :id and writes a 400 when it is not a UUID.
func marketIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid market id")
		return uuid.Nil, false
	}
	return id, true
}
