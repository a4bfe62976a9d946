package client

// ControlPlaneConfig contains configuration for the control plane server
type ControlPlaneConfig struct {
	Addr      string // Address to bind the control plane server
	AuthToken string // Access token for the control plane server, empty disables auth
	RateLimit int64  // Requests per second per client
	WatchDir  string // Reported in status, also used for disk usage
}
