package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"admoderation/internal/backend"
	"admoderation/internal/console"
	"admoderation/internal/failure"

	"github.com/gin-gonic/gin"
)

const (
	codeBadRequest = "bad_request"
	codeInternal   = "internal_error"
	codeNotFound   = "not_found"
)

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// classify 将错误映射为 HTTP 状态码与错误码。
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, console.ErrStaleResponse):
		return http.StatusConflict, "stale_response"
	case errors.Is(err, console.ErrNotVisible):
		return http.StatusConflict, "not_visible"
	case errors.Is(err, console.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	}

	kind := failure.KindOf(err)
	switch kind {
	case failure.KindValidation:
		return http.StatusBadRequest, string(kind)
	case failure.KindFetch:
		if backend.IsNotFound(err) {
			return http.StatusNotFound, codeNotFound
		}
		return http.StatusBadGateway, string(kind)
	case failure.KindMutation:
		return http.StatusBadGateway, string(kind)
	case failure.KindBulkPartial:
		return http.StatusMultiStatus, string(kind)
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// respondError 写出错误响应；批量失败附带成功与失败的 id。
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := classify(err)

	var bulkErr *failure.BulkError
	if errors.As(err, &bulkErr) {
		failed := make(map[string]string, len(bulkErr.Failed))
		for _, id := range bulkErr.FailedIDs() {
			failed[strconv.FormatInt(id, 10)] = bulkErr.Failed[id].Error()
		}
		succeeded := bulkErr.Succeeded
		if succeeded == nil {
			succeeded = []int64{}
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error":     gin.H{"code": code, "message": err.Error()},
			"succeeded": succeeded,
			"failed":    failed,
		})
		return
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("route", c.FullPath()), slog.String("error", err.Error()))
	}
	writeError(c, status, code, err.Error())
}
