package commands

import (
	"context"
	"fmt"

	"licensegate/internal/app"
	"licensegate/internal/license"
)

type ResetCmd struct {
	Overrides  `embed:""`
	Deactivate bool   `help:"Also release this machine's activation at the authority"`
	Authority  string `help:"Authority base URL overriding the configured one"`
}

func (r *ResetCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, logger, err := globals.load(r.Overrides)
	if err != nil {
		return err
	}
	if r.Authority != "" {
		cfg.Authority.BaseURL = r.Authority
	}

	cache := app.NewPersistentCache(cfg, logger)
	out := globals.stdout()

	if r.Deactivate {
		cached, ok := cache.Load()
		if !ok {
			return fmt.Errorf("no cached license to deactivate")
		}
		client, err := app.NewAuthorityClient(cfg, logger)
		if err != nil {
			return err
		}
		hid := license.HardwareID(r.identity(logger).HardwareID())
		if err := client.Deactivate(ctx, cached.License.UserID, hid); err != nil {
			return fmt.Errorf("failed to deactivate: %w", err)
		}
		fmt.Fprintf(out, "Released activation %s for %s\n", hid.Short(), cached.License.UserID)
	}

	if err := cache.Clear(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %s\n", cache.Path())
	return nil
}
