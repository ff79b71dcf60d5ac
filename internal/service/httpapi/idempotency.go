package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/domain"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"
	maxIdempotentBody       = 64 << 10
)

// bodyRecorder дублирует тело ответа, чтобы сохранить его под ключом.
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	w.buf.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotent повторяет сохранённый ответ на запрос с тем же Idempotency-Key.
// Без заголовка запрос обрабатывается как обычно.
func (h *Handler) idempotent(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
		if h.idem == nil || key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotentBody))
		if err != nil {
			h.badRequest(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		reqHash := requestHash(method, sessionFrom(c).ID, body)
		record, err := h.idem.CreateProcessing(ctx, key, reqHash, h.now().UTC().Add(h.idemTTL))
		if err != nil {
			h.replay(c, err, record)
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if status >= http.StatusBadRequest {
			if err := h.idem.MarkFailed(ctx, key, rec.buf.Bytes(), status); err != nil {
				h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
			}
			return
		}
		if err := h.idem.MarkDone(ctx, key, rec.buf.Bytes(), status); err != nil {
			h.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
		}
	}
}

func (h *Handler) replay(c *gin.Context, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "idempotency key is already used with different request payload"})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status.Terminal():
			if len(record.ResponseBody) == 0 || record.HTTPStatus == 0 {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency cache is empty"})
				return
			}
			c.Header(idempotencyReplayHeader, "true")
			c.Data(record.HTTPStatus, "application/json; charset=utf-8", record.ResponseBody)
			c.Abort()
		case record.Status == domain.IdempotencyStatusProcessing:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with the same idempotency key is already processing"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown idempotency record status"})
		}
	case errors.Is(createErr, domain.ErrIdempotencyKeyRequired):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "idempotency key is required"})
	default:
		h.logger.WithError(createErr).WithFields(log.Fields{
			"idempotency_key": record.Key,
		}).Warn("failed to create idempotency record")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to initialize idempotency request"})
	}
}

// requestHash связывает ключ с методом, сессией и телом запроса.
func requestHash(method, sessionID string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(sessionID)+2+len(body))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, sessionID...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
