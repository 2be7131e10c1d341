package app

import (
	"errors"

	"github.com/urfave/cli/v2"
)

const metadataKey = "app"

var ErrNotInitialized = errors.New("application not initialized")

// Attach makes a available to every action run by c's application.
func Attach(c *cli.Context, a *App) {
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[metadataKey] = a
}

// FromContext returns the App attached by the root Before hook.
func FromContext(c *cli.Context) (*App, error) {
	a, ok := c.App.Metadata[metadataKey].(*App)
	if !ok || a == nil {
		return nil, ErrNotInitialized
	}
	return a, nil
}
