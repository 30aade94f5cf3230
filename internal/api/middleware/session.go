package middleware

import (
	"errors"
	"net/http"
	"strings"

	"admoderation/internal/console"

	"github.com/gin-gonic/gin"
)

// SessionHeader 携带会话 id 的请求头。
const SessionHeader = "X-Session-Id"

const (
	sessionKey   = "session"
	sessionIDKey = "sessionID"
)

// SessionLookup 按 id 查找会话。
type SessionLookup interface {
	Get(id string) (*console.Session, error)
}

// SessionRequired 校验会话头并将会话写入上下文。
func SessionRequired(sessions SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(SessionHeader))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{
				"code":    "missing_session",
				"message": "missing " + SessionHeader + " header",
			}})
			return
		}

		sess, err := sessions.Get(id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, console.ErrSessionNotFound) {
				status = http.StatusNotFound
			}
			c.AbortWithStatusJSON(status, gin.H{"error": gin.H{
				"code":    "session_not_found",
				"message": err.Error(),
			}})
			return
		}

		c.Set(sessionKey, sess)
		c.Set(sessionIDKey, id)
		c.Next()
	}
}

// SessionFrom 返回 SessionRequired 写入的会话。
func SessionFrom(c *gin.Context) *console.Session {
	return c.MustGet(sessionKey).(*console.Session)
}

// SessionID 返回当前会话 id。
func SessionID(c *gin.Context) string {
	return c.GetString(sessionIDKey)
}
