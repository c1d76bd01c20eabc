package commands

import (
	"context"
	"errors"
	"fmt"

	"licensegate/internal/app"
	"licensegate/internal/license"
)

type ValidateCmd struct {
	Overrides `embed:""`
	Authority string `help:"Authority base URL overriding the configured one"`
}

func (v *ValidateCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, logger, err := globals.load(v.Overrides)
	if err != nil {
		return err
	}
	if v.Authority != "" {
		cfg.Authority.BaseURL = v.Authority
	}

	validator, _, err := app.BuildValidator(cfg, logger, nil, app.Options{
		Identity:  v.identity(logger),
		PromptIn:  globals.stdin(),
		PromptOut: globals.stderr(),
	})
	if err != nil {
		return err
	}

	out := globals.stdout()
	outcome, err := validator.Validate(ctx)
	if err != nil {
		var denial *license.Denial
		if errors.As(err, &denial) {
			fmt.Fprintf(out, "License denied: %s\n", denial.Message())
		}
		return err
	}

	fmt.Fprintf(out, "License valid for %s (%s)\n", sessionName(outcome.Session), outcome.Evidence)
	fmt.Fprintln(out, validator.Cache().Status())
	return nil
}

func sessionName(s license.SessionData) string {
	switch {
	case s.Email != "":
		return s.Email
	default:
		return s.UserID
	}
}
