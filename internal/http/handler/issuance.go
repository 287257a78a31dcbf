package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eventvax.app/relay/internal/http/dto"
	"eventvax.app/relay/internal/service"
)

type IssuanceHandler struct {
	issuanceService service.IssuanceService
}

func NewIssuanceHandler(issuanceService service.IssuanceService) *IssuanceHandler {
	return &IssuanceHandler{issuanceService: issuanceService}
}

func (h *IssuanceHandler) Request(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IssuanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(err.Error()))
		return
	}

	result, err := h.issuanceService.Request(ctx, service.IssuanceRequestParams{
		EventID:       *req.EventID,
		WalletAddress: req.WalletAddress,
		Source:        "http",
	})
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(err.Error()))
			return
		}
		slog.ErrorContext(ctx, "failed to submit issuance request", "error", err)
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to submit request"))
		return
	}

	c.JSON(http.StatusOK, dto.ToIssuanceResponse(result))
}

func (h *IssuanceHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	eventID, err := strconv.ParseInt(c.Param("eventId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid event id"))
		return
	}

	result, err := h.issuanceService.Status(ctx, eventID, c.Param("walletAddress"))
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse(err.Error()))
			return
		}
		slog.ErrorContext(ctx, "failed to fetch issuance status", "error", err)
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to fetch status"))
		return
	}

	c.JSON(http.StatusOK, dto.ToIssuanceStatusResponse(result))
}

func isValidationError(err error) bool {
	return errors.Is(err, service.ErrInvalidWallet) || errors.Is(err, service.ErrInvalidEventID)
}
