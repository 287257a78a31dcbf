package router

import (
	"github.com/gin-gonic/gin"

	"eventvax.app/relay/internal/http/handler"
)

func IssuanceRouter(rg *gin.RouterGroup, h *handler.IssuanceHandler, stream *handler.StatusStreamHandler) {
	rg.POST("/request", h.Request)
	rg.GET("/status/:eventId/:walletAddress", h.Status)
	if stream != nil {
		rg.GET("/status/:eventId/:walletAddress/stream", stream.Stream)
	}
}
