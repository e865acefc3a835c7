// Package overlay controls the in-page statistics overlay.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goodtune/skilltrack/internal/bridge"
	"github.com/goodtune/skilltrack/internal/storage"
	"github.com/goodtune/skilltrack/internal/usage"
	"github.com/rs/zerolog"
)

// Broadcaster sends a message to every connected page.
type Broadcaster interface {
	Broadcast(msg bridge.Message)
}

// SnapshotSource provides the live counters.
type SnapshotSource interface {
	Snapshot() (usage.Snapshot, error)
}

// Controller persists overlay visibility and announces changes.
type Controller struct {
	settings storage.SettingStore
	source   SnapshotSource
	hub      Broadcaster
	logger   zerolog.Logger
}

// NewController creates a controller.
func NewController(settings storage.SettingStore, source SnapshotSource, hub Broadcaster, logger zerolog.Logger) *Controller {
	return &Controller{
		settings: settings,
		source:   source,
		hub:      hub,
		logger:   logger.With().Str("component", "overlay").Logger(),
	}
}

// Visible reports whether the overlay is shown. Unset means shown.
func (c *Controller) Visible(ctx context.Context) (bool, error) {
	value, err := c.settings.Get(ctx, storage.SettingShowOverlay)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get overlay visibility: %w", err)
	}

	show, err := strconv.ParseBool(value)
	if err != nil {
		c.logger.Warn().Str("value", value).Msg("Invalid stored overlay visibility, assuming shown")
		return true, nil
	}
	return show, nil
}

// SetVisible stores the visibility and broadcasts it.
func (c *Controller) SetVisible(ctx context.Context, show bool) error {
	if err := c.settings.Set(ctx, storage.SettingShowOverlay, strconv.FormatBool(show)); err != nil {
		return fmt.Errorf("set overlay visibility: %w", err)
	}
	c.hub.Broadcast(bridge.OverlayMessage(show))
	c.logger.Debug().Bool("show", show).Msg("Overlay visibility changed")
	return nil
}

// Snapshot returns the counters the overlay displays.
func (c *Controller) Snapshot() (usage.Snapshot, error) {
	return c.source.Snapshot()
}
