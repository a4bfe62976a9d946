package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type SyncResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SyncHandler lets an operator request an immediate pass.
type SyncHandler struct {
	engine Engine
}

func NewSyncHandler(engine Engine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// Now wakes the engine. The pass runs asynchronously and never overlaps a
// running one.
func (h *SyncHandler) Now(c *gin.Context) {
	if h.engine == nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeEngineNotReady, errors.New("sync engine not initialized"))
		return
	}

	h.engine.Trigger()
	c.PureJSON(http.StatusAccepted, &SyncResponse{
		Code:    CodeOk,
		Message: "sync requested",
	})
}
