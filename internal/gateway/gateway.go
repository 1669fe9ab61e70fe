package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
)

// Gateway upgrades authenticated HTTP requests to workflow connections.
type Gateway struct {
	upgrader websocket.Upgrader
	runner   Runner
	agents   core.AgentService
	cfg      Config
	logger   *logging.Logger
}

// New creates a gateway.
func New(runner Runner, agents core.AgentService, cfg Config, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the HTTP layer's CORS
			// middleware; the upgrade itself accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		runner: runner,
		agents: agents,
		cfg:    cfg,
		logger: logger,
	}
}

// ServeWS upgrades the request and serves the session until disconnect. The
// caller (the API layer) has already authenticated the user.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		g.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	session := NewSession(conn, userID, g.runner, g.agents, g.cfg, g.logger)
	session.Run(r.Context())
}
