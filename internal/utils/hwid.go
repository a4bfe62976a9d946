package utils

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

// HWID identifies this device towards remote stores. It is an app-scoped
// hash of the machine id, falling back to the hostname.
var HWID = resolveHWID()

func resolveHWID() string {
	if id, err := machineid.ProtectedID("photosync"); err == nil {
		return id
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
