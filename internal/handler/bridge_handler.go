// internal/handler/bridge_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nori-bridge/internal/model"
	"nori-bridge/internal/service"
	"nori-bridge/internal/utils"
	"nori-bridge/pkg/devicetypes"
)

// BridgeController is the bridge surface exposed over HTTP
type BridgeController interface {
	Connect(ctx context.Context, req *model.ConnectRequest) error
	Disconnect() error
	Reset() error
	Status() *model.BridgeStatus
	IsConnected() bool
	ListPorts() ([]model.SerialPortInfo, error)
	Readings(ctx context.Context, filter *model.ReadingFilter) ([]*model.Reading, error)
}

// BridgeHandler handles bridge control requests
type BridgeHandler struct {
	bridge BridgeController
	logger *utils.ServiceLogger
}

// NewBridgeHandler creates a new bridge handler
func NewBridgeHandler(bridge BridgeController, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		bridge: bridge,
		logger: utils.NewServiceLogger(logger, "bridge-handler"),
	}
}

// RegisterRoutes registers bridge routes
func (h *BridgeHandler) RegisterRoutes(router *gin.RouterGroup) {
	bridge := router.Group("/bridge")
	{
		bridge.GET("/status", h.GetStatus)
		bridge.POST("/connect", h.Connect)
		bridge.POST("/disconnect", h.Disconnect)
		bridge.POST("/reset", h.Reset)
	}

	router.GET("/ports", h.ListPorts)
	router.GET("/readings", h.ListReadings)
}

// GetStatus returns the session and transport status
func (h *BridgeHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Bridge status retrieved", h.bridge.Status())
}

// Connect opens the board connection. The body is optional.
func (h *BridgeHandler) Connect(c *gin.Context) {
	var req model.ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := h.bridge.Connect(ctx, &req); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		h.logger.Error("Failed to connect board", zap.Error(err))
		utils.ErrorResponse(c, status, "Failed to connect board", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Board connection started", h.bridge.Status())
}

// Disconnect closes the board connection
func (h *BridgeHandler) Disconnect(c *gin.Context) {
	if err := h.bridge.Disconnect(); err != nil {
		if errors.Is(err, service.ErrNotConnected) {
			utils.ErrorResponse(c, http.StatusConflict, "Board not connected", err)
			return
		}
		h.logger.Error("Failed to disconnect board", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to disconnect board", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Board disconnected", nil)
}

// Reset clears the session's port values
func (h *BridgeHandler) Reset(c *gin.Context) {
	if err := h.bridge.Reset(); err != nil {
		if errors.Is(err, service.ErrNotConnected) {
			utils.ErrorResponse(c, http.StatusConflict, "Board not connected", err)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to reset session", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session reset", h.bridge.Status())
}

// ListPorts enumerates serial ports on the host
func (h *BridgeHandler) ListPorts(c *gin.Context) {
	ports, err := h.bridge.ListPorts()
	if err != nil {
		h.logger.Error("Failed to list serial ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list serial ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Serial ports retrieved", gin.H{
		"ports": ports,
		"count": len(ports),
	})
}

// ListReadings returns stored readings, newest first
func (h *BridgeHandler) ListReadings(c *gin.Context) {
	filter, validationErrors := parseReadingFilter(c)
	if len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	readings, err := h.bridge.Readings(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list readings", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list readings", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Readings retrieved", gin.H{
		"readings": readings,
		"count":    len(readings),
	})
}

// parseKind accepts a device table name such as TEMPER or its number
func parseKind(v string) (int, bool) {
	if kind, ok := devicetypes.ParseDeviceKind(strings.ToUpper(v)); ok {
		return int(kind), true
	}
	kind, err := strconv.Atoi(v)
	if err != nil || kind < 0 || kind > 255 || !devicetypes.DeviceKind(kind).Valid() {
		return 0, false
	}
	return kind, true
}

func parseReadingFilter(c *gin.Context) (*model.ReadingFilter, map[string]string) {
	filter := &model.ReadingFilter{}
	errs := make(map[string]string)

	if v := c.Query("port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 255 {
			errs["port"] = "must be an integer between 0 and 255"
		} else {
			filter.Port = &port
		}
	}
	if v := c.Query("kind"); v != "" {
		if kind, ok := parseKind(v); ok {
			filter.Kind = &kind
		} else {
			errs["kind"] = "must be a device kind name or number"
		}
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs["since"] = "must be an RFC3339 timestamp"
		} else {
			filter.Since = &since
		}
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			errs["limit"] = "must be a non-negative integer"
		} else {
			filter.Limit = limit
		}
	}

	return filter, errs
}
