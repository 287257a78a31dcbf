package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"eventvax.app/relay/internal/http/dto"
	"eventvax.app/relay/internal/model"
	"eventvax.app/relay/internal/queue"
)

const streamBlock = 25 * time.Second

// StatusStreamHandler tails the per-pair status stream over server-sent events.
type StatusStreamHandler struct {
	redis  *redis.Client
	prefix string
}

func NewStatusStreamHandler(redisClient *redis.Client, prefix string) *StatusStreamHandler {
	return &StatusStreamHandler{redis: redisClient, prefix: prefix}
}

func (h *StatusStreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse("status stream not configured"))
		return
	}

	eventID, err := strconv.ParseInt(c.Param("eventId"), 10, 64)
	if err != nil || eventID < 0 {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid event id"))
		return
	}
	wallet, ok := model.NormalizeWallet(c.Param("walletAddress"))
	if !ok {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid wallet address"))
		return
	}

	stream := queue.StatusStreamName(h.prefix, eventID, wallet)
	lastID := c.Query("last_id")
	if lastID == "" {
		// Replay the retained history so a late subscriber sees the current state.
		lastID = "0"
	}

	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("streaming not supported"))
		return
	}

	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := h.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   streamBlock,
			Count:   100,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
				flusher.Flush()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			sseWrite(c.Writer, "error", dto.NewErrorResponse(err.Error()))
			flusher.Flush()
			continue
		}

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				lastID = msg.ID
				sseWriteID(c.Writer, msg.ID, "status", msg.Values)
				flusher.Flush()
			}
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	sseWriteID(w, "", event, data)
}

func sseWriteID(w http.ResponseWriter, id, event string, data any) {
	payload := marshalPayload(data)
	if id != "" {
		_, _ = fmt.Fprintf(w, "id: %s\n", id)
	}
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
