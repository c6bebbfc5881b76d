package transport

import (
	"fmt"

	"github.com/annel0/netsync/internal/config"
)

// NewServerFromConfig создаёт серверный транспорт по transport.kind и портам секции server
func NewServerFromConfig(cfg *config.Config, inbox *Inbox) (Server, string, error) {
	switch cfg.Transport.Kind {
	case "", "kcp":
		addr := fmt.Sprintf(":%d", cfg.Server.GetKCPPort())
		s, err := NewKCPServer(addr, KCPConfigFrom(cfg.Transport, cfg.Batching), inbox)
		if err != nil {
			return nil, "", err
		}
		return s, "kcp://" + addr, nil
	case "websocket":
		addr := fmt.Sprintf(":%d", cfg.Server.GetWSPort())
		wc := WebSocketConfigFrom(cfg.Transport, cfg.Batching)
		s, err := NewWebSocketServer(addr, wc, inbox)
		if err != nil {
			return nil, "", err
		}
		return s, "ws://" + addr + wc.Path, nil
	default:
		return nil, "", fmt.Errorf("transport: unknown kind %q", cfg.Transport.Kind)
	}
}

// NewClientFromConfig клиентский транспорт того же вида, что у сервера
func NewClientFromConfig(cfg *config.Config, inbox *Inbox) (Client, error) {
	switch cfg.Transport.Kind {
	case "", "kcp":
		c, err := NewKCPClient(KCPConfigFrom(cfg.Transport, cfg.Batching), inbox)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "websocket":
		c, err := NewWebSocketClient(WebSocketConfigFrom(cfg.Transport, cfg.Batching), inbox)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Transport.Kind)
	}
}
