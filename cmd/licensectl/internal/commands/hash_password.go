package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"licensegate/internal/security"
)

type HashPasswordCmd struct{}

// Run reads the password from stdin so it stays out of shell history
func (h *HashPasswordCmd) Run(ctx context.Context, globals *Globals) error {
	fmt.Fprint(globals.stderr(), "Password: ")
	line, err := bufio.NewReader(globals.stdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}

	hash, err := security.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Fprintln(globals.stdout(), hash)
	return nil
}
