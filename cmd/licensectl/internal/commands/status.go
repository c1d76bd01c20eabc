package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"licensegate/internal/app"
)

type StatusCmd struct {
	Overrides `embed:""`
	JSON      bool `help:"Print the cache state as JSON"`
}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, logger, err := globals.load(s.Overrides)
	if err != nil {
		return err
	}

	cache := app.NewPersistentCache(cfg, logger)
	out := globals.stdout()

	if s.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cache.Inspect())
	}

	fmt.Fprintf(out, "Cache file: %s\n", cache.Path())
	fmt.Fprintln(out, cache.Status())
	return nil
}
