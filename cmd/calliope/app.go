package main

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/calliope-audio/calliope/internal/config"
	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/events"
	"github.com/calliope-audio/calliope/internal/media"
	"github.com/calliope-audio/calliope/internal/playlist"
	"github.com/calliope-audio/calliope/internal/scanner"
)

// app bundles the collaborators a command needs: the open track store,
// the event bus and the scan manager built over them.
type app struct {
	db      *gorm.DB
	bus     events.EventBus
	manager *scanner.Manager
}

// openApp connects the database and starts the bus and scan manager.
func openApp(ctx context.Context) (*app, error) {
	cfg := config.Get()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	bus := events.NewEventBus(events.DefaultEventBusConfig())
	if err := bus.Start(ctx); err != nil {
		return nil, err
	}

	manager := scanner.NewManager(db, bus, media.NewLoader(), playlist.NewLoader(), cfg.Scanner)
	if err := manager.Start(ctx); err != nil {
		return nil, err
	}

	return &app{db: db, bus: bus, manager: manager}, nil
}

// close shuts down the manager and bus in reverse start order.
func (a *app) close() {
	a.manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.bus.Stop(ctx); err != nil {
		fmt.Println("Warning: event bus did not stop cleanly:", err)
	}
}
