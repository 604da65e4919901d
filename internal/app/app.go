package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/promptforge/promptforge-chat/internal/dispatch"
	"github.com/promptforge/promptforge-chat/internal/notify"
	"github.com/promptforge/promptforge-chat/internal/persistence"
	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
	"github.com/promptforge/promptforge-chat/internal/router"
	"github.com/promptforge/promptforge-chat/internal/session"
	"github.com/promptforge/promptforge-chat/internal/transport"
)

// App wires the chat core: persistence, session store, connection
// manager, router, dispatcher and notification bridge. The embedding UI
// holds one App per process.
type App struct {
	Log        *logger.Logger
	Cfg        Config
	Store      *session.Store
	Conn       *transport.Manager
	Router     *router.Router
	Dispatcher *dispatch.Dispatcher
	Bridge     *notify.Bridge

	portCloser io.Closer
	cancel     context.CancelFunc
}

// New builds the subsystem with the production websocket dialer.
func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("CHAT_LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg := LoadConfig(log)
	return NewWithDialer(ctx, cfg, transport.NewWebsocketDialer(), log)
}

// NewWithDialer is the seam for tests and embedders that bring their
// own transport.
func NewWithDialer(ctx context.Context, cfg Config, dialer transport.Dialer, log *logger.Logger) (*App, error) {
	port, closer, err := buildPort(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	store := session.New(ctx, port, session.Config{MessageCap: cfg.MessageCap}, log)
	conn := transport.NewManager(transport.Config{
		URL:                  cfg.ServerURL,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BaseReconnectDelay:   cfg.BaseReconnectDelay,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		HeartbeatTimeout:     cfg.HeartbeatTimeout,
	}, dialer, log)
	rt := router.New(log)
	disp := dispatch.New(store, rt, conn, dispatch.Config{ResponseTimeout: cfg.ResponseTimeout}, log)
	bridge := notify.New(conn, disp, cfg.MaxReconnectAttempts, log)

	return &App{
		Log:        log,
		Cfg:        cfg,
		Store:      store,
		Conn:       conn,
		Router:     rt,
		Dispatcher: disp,
		Bridge:     bridge,
		portCloser: closer,
	}, nil
}

func buildPort(ctx context.Context, cfg Config, log *logger.Logger) (persistence.Port, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Persistence)) {
	case "", "memory":
		return persistence.NewMemoryStore(), nil, nil
	case "file":
		if cfg.StatePath == "" {
			return nil, nil, fmt.Errorf("file persistence: CHAT_STATE_PATH required")
		}
		store, err := persistence.NewFileStore(cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "sqlite":
		if cfg.StatePath == "" {
			return nil, nil, fmt.Errorf("sqlite persistence: CHAT_STATE_PATH required")
		}
		store, err := persistence.OpenSQLiteStore(ctx, cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "redis":
		store, err := persistence.NewRedisStore(ctx, persistence.RedisOptions{
			Addr:      cfg.RedisAddr,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence)
	}
}

// Start opens the connection. Further reconnects are automatic up to
// the configured cap.
func (a *App) Start(ctx context.Context) error {
	if a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	return a.Conn.Connect(ctx)
}

// Stop tears everything down in reverse dependency order.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Bridge.Dispose()
	a.Dispatcher.Dispose()
	a.Conn.Dispose()
	if a.portCloser != nil {
		_ = a.portCloser.Close()
	}
	a.Log.Sync()
}
