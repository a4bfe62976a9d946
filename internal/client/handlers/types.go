package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/openmined/photosync/internal/client/sync"
)

const (
	CodeOk                string = "OK"
	ErrCodeBadRequest     string = "ERR_BAD_REQUEST"
	ErrCodeUnknownError   string = "ERR_UNKNOWN_ERROR"
	ErrCodeEngineNotReady string = "ERR_ENGINE_NOT_READY"
)

// Engine is what the control plane needs from the sync engine.
type Engine interface {
	Status() *sync.SyncStatus
	Trigger()
}

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	_ = c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
