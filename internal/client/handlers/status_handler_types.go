package handlers

import "github.com/openmined/photosync/internal/client/sync"

type StatusResponse struct {
	Status    string               `json:"status"`
	Timestamp string               `json:"ts"`
	Version   string               `json:"version"`
	Revision  string               `json:"revision"`
	WatchDir  string               `json:"watch_dir"`
	Engine    *sync.StatusSnapshot `json:"engine"`
	Disk      *DiskInfo            `json:"disk,omitempty"`
}

type DiskInfo struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}
