// Package app wires the engine together: config, stores, the bus, the
// room registry and the HTTP server, with a single lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agentbus/internal/sweeper"
	"agentbus/pkg/ack"
	"agentbus/pkg/api"
	"agentbus/pkg/bus"
	"agentbus/pkg/config"
	"agentbus/pkg/logger"
	"agentbus/pkg/persist"
	"agentbus/pkg/rooms"
	"agentbus/pkg/selector"
	"agentbus/pkg/store"
	"agentbus/pkg/tasks"
	"agentbus/pkg/ws"
)

// App owns every long-lived component of the server.
type App struct {
	cfg config.Config

	store   *store.Store
	db      *persist.DB
	bus     *bus.Registry
	acks    *ack.Manager
	rooms   *rooms.Registry
	tasks   *tasks.Manager
	sweeper *sweeper.Sweeper

	srv *http.Server
}

// New builds the component graph without starting any goroutines or
// listeners; call Run to start and block.
func New(cfg config.Config) (*App, error) {
	a := &App{cfg: cfg}

	st, err := store.Open(cfg.Storage.DBPath, cfg.Store.RingCapacity)
	if err != nil {
		return nil, fmt.Errorf("open message store at %s: %w", cfg.Storage.DBPath, err)
	}
	a.store = st

	db, err := persist.Open(cfg.Storage.SQLitePath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open room database at %s: %w", cfg.Storage.SQLitePath, err)
	}
	a.db = db

	a.bus = bus.New(cfg.Bus.MaxConnections, cfg.Bus.MaxPerClient, cfg.Bus.SendBuffer)

	a.rooms = rooms.NewRegistry(rooms.Limits{
		FileCapacity:   cfg.Rooms.FileCapacity.Int64(),
		MaxFileSize:    cfg.Rooms.MaxFileSize.Int64(),
		ChannelBacklog: cfg.Rooms.ChannelBacklog,
	}, db)
	a.rehydrateRooms()

	a.tasks = tasks.New(cfg.Tasks.DefaultTimeout.Duration(), db, a.notifyRoom)

	a.acks = ack.NewManager(ack.Options{
		Timeout:    cfg.Ack.Timeout.Duration(),
		MaxRetries: cfg.Ack.MaxRetries,
		RetryDelay: cfg.Ack.RetryDelay.Duration(),
	}, a.bus.Fanout)

	a.sweeper = sweeper.New(a.store, a.tasks, cfg.Store, cfg.Tasks)

	wsHandler := ws.NewHandler(a.store, a.bus, a.acks, a.rooms, a.tasks, cfg.Collab.EnableExec, db)
	srv := &api.Server{
		Store:    a.store,
		Bus:      a.bus,
		Acks:     a.acks,
		Rooms:    a.rooms,
		Tasks:    a.tasks,
		Cfg:      &a.cfg,
		Balancer: selector.New(cfg.Routing.Strategy),
		WS:       wsHandler,
	}
	a.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// rehydrateRooms reloads persisted rooms into the live registry. A
// failed room load is logged and skipped rather than aborting startup.
func (a *App) rehydrateRooms() {
	ids, err := a.db.RoomIDs()
	if err != nil {
		logger.Warn("room_rehydrate_list_failed", "error", err)
		return
	}
	loaded := 0
	for _, id := range ids {
		st, err := a.db.LoadRoom(id)
		if err != nil {
			logger.Warn("room_rehydrate_failed", "room", id, "error", err)
			continue
		}
		a.rooms.Adopt(rooms.Rehydrate(st))
		loaded++
	}
	if loaded > 0 {
		logger.Info("rooms_rehydrated", "count", loaded)
	}
}

// notifyRoom posts a system message into a room, used by the task
// sweeper for timeout notices.
func (a *App) notifyRoom(roomID, text string) {
	r, err := a.rooms.Get(roomID)
	if err != nil {
		return
	}
	if _, err := r.Send(rooms.SystemAuthor, text, rooms.MainChannel, ""); err != nil {
		logger.Warn("room_notify_failed", "room", roomID, "error", err)
	}
}

// Run starts the background loops and the HTTP server, blocking until
// ctx is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.acks.Start(ctx)
	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close shuts the HTTP server down gracefully and releases every store.
func (a *App) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", "error", err)
	}
	a.acks.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("db_close_error", "error", err)
	}
	logger.Info("server_stopped")
}
