package source

import (
	"context"
	"fmt"
)

// connect opens the client connection
// (via the injected Connect hook, which already carries the configured
// auth material / deref / referrals / time-limit options) and seed the
// sync cookie per the precedence rule in seedCookie: a command-line
// override matching this rid, else the shared Cookie State, else a
// directory readback of the local contextCSN.
func (s *Source) connect(ctx context.Context) error {
	if s.Connect != nil {
		if err := s.Connect(ctx); err != nil {
			return fmt.Errorf("source: connect: %w", err)
		}
	}

	return s.seedCookie(ctx)
}
