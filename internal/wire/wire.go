// Package wire is the protocol layer between this consumer and a
// provider directory: building the outbound sync-request control,
// parsing the per-entry sync-state control and the final sync-done
// control via go-ldap/ldap/v3's own syncrepl control types, and decoding
// the RFC 4533 intermediate-response tagged-choice body
// (NEW_COOKIE | REFRESH_DELETE | REFRESH_PRESENT | SYNC_ID_SET) that the
// upstream library's Control interface does not model, since intermediate
// responses are a distinct LDAP protocol operation, not a control.
package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Dialect selects which of the three provider dialects a Conn speaks.
type Dialect int

const (
	DialectFullSync Dialect = iota
	DialectDirSync
	DialectChangeLog
)

// DialOptions configures a new provider connection.
type DialOptions struct {
	URI string
	ConnectTimeout time.Duration
	ReadTimeout time.Duration
	TLSConfig *tls.Config
	BindDN string
	BindPW string
}

// Conn wraps a bound *ldap.Conn for one source. dirops.LDAPDirectory can
// be constructed over the same underlying *ldap.Conn when the host
// directory this consumer applies entries into is reachable over the
// same connection; most deployments use a second Conn/LDAPDirectory pair
// pointed at the local store instead.
type Conn struct {
	raw *ldap.Conn
}

// Dial opens and binds a new provider connection.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	dialOpts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: opts.ConnectTimeout})}
	if opts.TLSConfig != nil {
		dialOpts = append(dialOpts, ldap.DialWithTLSConfig(opts.TLSConfig))
	}

	raw, err := ldap.DialURL(opts.URI, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", opts.URI, err)
	}

	if opts.ReadTimeout > 0 {
		raw.SetTimeout(opts.ReadTimeout)
	}

	if opts.BindDN != "" {
		if err := raw.Bind(opts.BindDN, opts.BindPW); err != nil {
			raw.Close()

			return nil, fmt.Errorf("wire: bind as %s: %w", opts.BindDN, err)
		}
	}

	return &Conn{raw: raw}, nil
}

// Raw exposes the underlying *ldap.Conn for callers (internal/dirops)
// that need to issue ordinary directory operations over the same
// connection.
func (c *Conn) Raw() *ldap.Conn { return c.raw }

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}
