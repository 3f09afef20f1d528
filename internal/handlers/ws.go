package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/clawwork/livebench/internal/hub"
	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/middleware"
	"github.com/clawwork/livebench/internal/tenant"
)

const wsTenantKeyLocal = "ws_tenant_key"

// WSHandler upgrades websocket connections and registers them with the
// broadcast hub under their tenant key.
type WSHandler struct {
	hub      *hub.BroadcastHub
	resolver *tenant.Resolver
	header   string
	log      logger.Logger
}

func NewWSHandler(h *hub.BroadcastHub, resolver *tenant.Resolver, header string, log logger.Logger) *WSHandler {
	return &WSHandler{hub: h, resolver: resolver, header: header, log: log}
}

// Upgrade resolves the tenant before the protocol switch. Fiber locals
// survive into the websocket handler.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	tctx, err := h.resolver.Resolve(c.Get(h.header))
	if err != nil {
		return middleware.BadRequest(c, "Invalid tenant")
	}
	c.Locals(wsTenantKeyLocal, tctx.Key)
	return c.Next()
}

// Serve returns the websocket connection handler. Clients get a
// connected ack, then text frames are echoed until the peer goes away.
func (h *WSHandler) Serve() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		tenantKey, _ := conn.Locals(wsTenantKeyLocal).(string)

		h.hub.Connect(conn, tenantKey)
		defer h.hub.Disconnect(conn)

		if err := conn.WriteJSON(fiber.Map{
			"type":    "connected",
			"message": "Connected to LiveBench real-time updates",
		}); err != nil {
			h.log.Debug("Websocket ack failed", logger.Error(err))
			return
		}

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if err := conn.WriteJSON(fiber.Map{
				"type": "echo",
				"data": string(data),
			}); err != nil {
				h.log.Debug("Websocket echo failed", logger.Error(err))
				return
			}
		}
	})
}
