package control

import (
	"context"
	"sync"

	"sessionreel/internal/metrics"
	"sessionreel/internal/registry"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WSHandler returns a fiber websocket handler that binds each connection to
// a control Session. The session identifier comes from the route parameter;
// a connection without one gets a freshly minted id.
func WSHandler(reg *registry.Service, m *metrics.Collector, logger *zap.Logger) func(*websocket.Conn) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *websocket.Conn) {
		sessionID := c.Params("sessionId")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		sess := NewSession(sessionID, reg, m, logger)
		logger.Info("control channel connected", zap.String("session_id", sessionID))

		var writeMu sync.Mutex
		send := func(env Envelope) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return c.WriteJSON(env)
		}

		ctx := context.Background()
		for {
			var env Envelope
			if err := c.ReadJSON(&env); err != nil {
				logger.Info("control channel disconnected",
					zap.String("session_id", sessionID),
					zap.Error(err))
				return
			}
			if err := sess.Handle(ctx, env, send); err != nil {
				logger.Warn("control message rejected",
					zap.String("session_id", sessionID),
					zap.String("type", env.Type),
					zap.Error(err))
			}
		}
	}
}
