package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/checkout"
)

const sessionKey = "shop.session"

// requestLogger пишет одну строку logrus на запрос вместо стандартного логгера gin.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := h.now()
		c.Next()

		status := c.Writer.Status()
		entry := h.logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"route":       routeOf(c),
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("http request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("http request rejected")
		default:
			entry.Debug("http request served")
		}
	}
}

// observe учитывает запрос в Prometheus по шаблону маршрута.
func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		h.metrics.Observe(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func (h *Handler) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.logger.WithFields(log.Fields{
			"route": routeOf(c),
			"panic": recovered,
		}).Error("panic in http handler")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// session находит сессию по cookie или заводит новую и выставляет cookie.
func (h *Handler) session() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(SessionCookie)
		s, created := h.sessions.GetOrCreate(id)
		if created || id != s.ID {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, s.ID, int(h.sessionMaxAge.Seconds()), "/", "", h.secureCookies, true)
		}
		c.Set(sessionKey, s)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) *checkout.Session {
	return c.MustGet(sessionKey).(*checkout.Session)
}

func routeOf(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
