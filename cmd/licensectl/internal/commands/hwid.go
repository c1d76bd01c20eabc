package commands

import (
	"context"
	"fmt"
	"sort"

	"licensegate/internal/security"
)

type HwidCmd struct {
	Components bool `help:"Show the signals the ID was derived from"`
}

func (h *HwidCmd) Run(ctx context.Context, globals *Globals) error {
	_, logger, err := globals.load(Overrides{})
	if err != nil {
		return err
	}

	fp := security.NewFingerprintManager(security.WithFingerprintLogger(logger)).Fingerprint()
	out := globals.stdout()
	fmt.Fprintln(out, fp.Fingerprint)

	if !h.Components {
		return nil
	}
	names := make([]string, 0, len(fp.Components))
	for name := range fp.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-10s %s\n", name, fp.Components[name])
	}
	for _, name := range fp.Skipped {
		fmt.Fprintf(out, "  %-10s (not used, machine id present)\n", name)
	}
	return nil
}
