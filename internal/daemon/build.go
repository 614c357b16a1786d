// Package daemon wires a parsed internal/config.Config into the running
// collaborators: one dirops.Directory and internal/cookie.State per
// `[[database]]` section, one internal/source.Source per `[[source]]`
// directive sharing it, ready to hand to internal/scheduler.Runner.
// It turns a config file into live collaborators exactly once, in one
// place, so every subcommand that runs sources (run, once) builds from the same
// recipe instead of duplicating it.
package daemon

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/ldapsyncd/ldapsyncd/internal/apply"
	"github.com/ldapsyncd/ldapsyncd/internal/conflict"
	"github.com/ldapsyncd/ldapsyncd/internal/config"
	"github.com/ldapsyncd/ldapsyncd/internal/cookie"
	"github.com/ldapsyncd/ldapsyncd/internal/cookiestore"
	"github.com/ldapsyncd/ldapsyncd/internal/cookieupdate"
	"github.com/ldapsyncd/ldapsyncd/internal/csn"
	"github.com/ldapsyncd/ldapsyncd/internal/decode"
	"github.com/ldapsyncd/ldapsyncd/internal/diff"
	"github.com/ldapsyncd/ldapsyncd/internal/dirops"
	"github.com/ldapsyncd/ldapsyncd/internal/glue"
	"github.com/ldapsyncd/ldapsyncd/internal/nonpresent"
	"github.com/ldapsyncd/ldapsyncd/internal/presentset"
	"github.com/ldapsyncd/ldapsyncd/internal/retry"
	"github.com/ldapsyncd/ldapsyncd/internal/source"
	"github.com/ldapsyncd/ldapsyncd/internal/wire"
)

// Database is one `[[database]]` section's live collaborators: the
// connection to the host directory the sources sharing it write into,
// and the Cookie State every one of those sources' ticks serializes
// refresh access through.
type Database struct {
	Name string
	ContextDN string
	ContextAttr string
	StampAttr string

	Dir dirops.Directory
	State *cookie.State
	Glue *glue.Builder

	conn *wire.Conn
}

// Close tears down the database's host-directory connection.
func (d *Database) Close() error {
	if d.conn == nil {
		return nil
	}

	return d.conn.Close()
}

// defaultSchemaRules is the fallback single-valued attribute set used
// when no richer schema source is configured; schema discovery is out
// of scope, so this consumer ships a minimal,
// conservative rule set covering the attributes RFC 4512 and common
// directory schemas define as SINGLE-VALUE.
func defaultSchemaRules() map[string]diff.AttrRule {
	return map[string]diff.AttrRule{
		"cn": {SingleValued: true},
		"uid": {SingleValued: true},
		"entryUUID": {SingleValued: true},
		"entryCSN": {SingleValued: true},
		"createTimestamp": {SingleValued: true},
		"modifyTimestamp": {SingleValued: true},
		"modifiersName": {SingleValued: true},
		"creatorsName": {SingleValued: true},
		"structuralObjectClass": {SingleValued: true},
	}
}

// OpenDatabases dials every configured `[[database]]` section's host
// directory and constructs its Cookie State. Callers must Close every
// returned Database once the daemon shuts down.
func OpenDatabases(ctx context.Context, cfg *config.Config, store *cookiestore.Store, logger *slog.Logger) (map[string]*Database, error) {
	out := make(map[string]*Database, len(cfg.Databases))

	for _, sec := range cfg.Databases {
		db, err := openDatabase(ctx, cfg.Network, sec, store, logger)
		if err != nil {
			closeAll(out)

			return nil, fmt.Errorf("daemon: opening database %q: %w", sec.Name, err)
		}

		out[sec.Name] = db
	}

	return out, nil
}

func closeAll(databases map[string]*Database) {
	for _, db := range databases {
		db.Close()
	}
}

func openDatabase(ctx context.Context, net config.NetworkConfig, sec config.DatabaseSection, store *cookiestore.Store, logger *slog.Logger) (*Database, error) {
	conn, err := wire.Dial(ctx, wire.DialOptions{
		URI: sec.URI,
		ConnectTimeout: durationOr(net.ConnectTimeout, 10*time.Second),
		ReadTimeout: durationOr(net.ReadTimeout, 60*time.Second),
		TLSConfig: tlsConfigForURI(sec.URI),
		BindDN: sec.BindDN,
		BindPW: sec.BindPW,
	})
	if err != nil {
		return nil, err
	}

	if net.TLS == "starttls" {
		if err := conn.Raw().StartTLS(tlsConfigForURI(sec.URI)); err != nil {
			conn.Close()

			return nil, fmt.Errorf("starttls: %w", err)
		}
	}

	dir := dirops.NewLDAPDirectory(conn.Raw(), sec.UUIDAttr)

	state := cookie.New(cookie.Options{
		Database: sec.Name,
		ContextDN: sec.ContextDN,
		ContextAttr: sec.ContextAttr,
		RID: 0,
		SID: 0,
		Dir: dir,
		Store: store,
		Logger: logger,
	})

	gen := &csn.Generator{SID: 0}

	return &Database{
		Name: sec.Name,
		ContextDN: sec.ContextDN,
		ContextAttr: sec.ContextAttr,
		StampAttr: sec.StampAttr,
		Dir: dir,
		State: state,
		Glue: &glue.Builder{Dir: dir, Suffix: sec.ContextDN, StampAttr: sec.StampAttr, Gen: gen},
		conn: conn,
	}, nil
}

// BuildSources constructs one internal/source.Source per `[[source]]`
// directive, sharing the *Database (and so the *cookie.State and
// dirops.Directory) every other source with the same `database` key
// uses. databases must already contain an entry for every
// SourceSection.Database value (internal/config.Validate guarantees
// this for a loaded config).
func BuildSources(cfg *config.Config, databases map[string]*Database, logger *slog.Logger) ([]*source.Source, error) {
	sources := make([]*source.Source, 0, len(cfg.Sources))

	seen := make(map[string]bool, len(databases))

	for _, sec := range cfg.Sources {
		db, ok := databases[sec.Database]
		if !ok {
			return nil, fmt.Errorf("daemon: source rid=%d: no database %q configured", sec.RID, sec.Database)
		}

		if seen[sec.Database] {
			db.State.Acquire()
		}

		seen[sec.Database] = true

		src, err := buildSource(cfg.Network, sec, db, logger)
		if err != nil {
			return nil, fmt.Errorf("daemon: source rid=%d: %w", sec.RID, err)
		}

		sources = append(sources, src)
	}

	return sources, nil
}

func buildSource(net config.NetworkConfig, sec config.SourceSection, db *Database, logger *slog.Logger) (*source.Source, error) {
	sched, err := retry.Parse(sec.Retry)
	if err != nil {
		return nil, fmt.Errorf("retry schedule: %w", err)
	}

	mode := modeFor(sec.Type)
	schema := diff.NewSchema(defaultSchemaRules())

	applier := &apply.Applier{
		Dir: db.Dir,
		Base: sec.SearchBase,
		Schema: schema,
		Glue: db.Glue,
		PresentSet: presentset.New(),
		Committed: db.State.Committed,
		Include: toSet(sec.Attrs),
		Exclude: toSet(sec.ExAttrs),
		ContextEntryDN: db.ContextDN,
		ContextAttr: db.ContextAttr,
		OperationalAttrs: []string{"modifiersName", "modifyTimestamp"},
		StampAttr: db.StampAttr,
	}

	var resolver *conflict.Resolver
	if mode != source.ModeRefreshOnly {
		resolver = &conflict.Resolver{Schema: schema}
	}

	nonPresent := &nonpresent.Reconciler{
		Dir: db.Dir,
		Glue: db.Glue,
		PresentSet: applier.PresentSet,
		Base: sec.SearchBase,
		Filter: sec.Filter,
		CSNAttr: applier.StampAttr,
	}

	sid := int32(sec.ServerID)
	if sec.ServerID == 0 {
		sid = int32(sec.RID)
	}

	src := &source.Source{
		Name: fmt.Sprintf("rid=%d %s", sec.RID, sec.Provider),
		RID: int32(sec.RID),
		SID: sid,
		Mode: mode,
		Base: sec.SearchBase,
		Filter: sec.Filter,
		SizeLimit: sec.SizeLimit,
		TimeLimit: sec.TimeLimit,
		IntervalSeconds: sec.IntervalSeconds,
		Decoder: decoderFor(sec, db),
		Applier: applier,
		Conflict: resolver,
		CookieUpdater: &cookieupdate.Updater{State: db.State},
		NonPresent: nonPresent,
		PresentSet: applier.PresentSet,
		CookieState: db.State,
		Retry: sched,
		Logger: logger,
		Dir: db.Dir,
		LogBase: sec.LogBase,
		LogFilter: sec.LogFilter,
		CSNAttr: applier.StampAttr,
	}

	attachProvider(src, sec, net)

	return src, nil
}

func modeFor(t string) source.Mode {
	switch t {
	case "dirSync":
		return source.ModeDirSync
	case "refreshOnly":
		return source.ModeRefreshOnly
	default:
		return source.ModeRefreshAndPersist
	}
}

func decoderFor(sec config.SourceSection, db *Database) decode.Decoder {
	if sec.Type == "dirSync" {
		return &decode.DirSyncDecoder{CreatedAttr: "whenCreated"}
	}

	switch sec.SyncData {
	case "access-log":
		return &decode.AccessLogDecoder{
			SingleValued: map[string]bool{"cn": true, "uid": true},
			ExcludeAttrs: toSet(sec.ExAttrs),
			DynamicAttrs: map[string]bool{"pwdFailureTime": true, "pwdAccountLockedTime": true},
		}
	case "change-log":
		return &decode.ChangeLogDecoder{UniqueIDAttr: "targetUniqueID"}
	default:
		return &decode.PlainDecoder{
			ContextEntryDN: db.ContextDN,
			ContextAttr: db.ContextAttr,
			DNSyntaxAttrs: map[string]bool{"member": true, "manager": true},
		}
	}
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}

	out := make(map[string]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}

	return out
}

// providerConn holds the live connection a source's Connect/Search/Close
// closures share, mirroring the function-injection shape
// internal/source.Source already exposes for tests, now pointed at a
// real wire.Conn instead of a canned stub.
type providerConn struct {
	mu sync.Mutex
	conn *wire.Conn
}

func attachProvider(src *source.Source, sec config.SourceSection, net config.NetworkConfig) {
	pc := &providerConn{}
	scope := scopeFor(sec.Scope)
	filter := sec.Filter

	if filter == "" {
		filter = "(objectClass=*)"
	}

	attrs := searchAttrs(sec)

	src.Connect = func(ctx context.Context) error {
		conn, err := wire.Dial(ctx, wire.DialOptions{
			URI: sec.Provider,
			ConnectTimeout: durationOr(net.ConnectTimeout, 10*time.Second),
			ReadTimeout: durationOr(net.ReadTimeout, 60*time.Second),
			TLSConfig: tlsConfigForURI(sec.Provider),
			BindDN: sec.BindDN,
			BindPW: sec.BindPW,
		})
		if err != nil {
			return err
		}

		if net.TLS == "starttls" {
			if err := conn.Raw().StartTLS(tlsConfigForURI(sec.Provider)); err != nil {
				conn.Close()

				return fmt.Errorf("starttls: %w", err)
			}
		}

		pc.mu.Lock()
		pc.conn = conn
		pc.mu.Unlock()

		return nil
	}

	src.Close = func() error {
		pc.mu.Lock()
		conn := pc.conn
		pc.conn = nil
		pc.mu.Unlock()

		if conn == nil {
			return nil
		}

		return conn.Close()
	}

	src.Search = func(ctx context.Context, cookieBytes []byte) (*wire.SyncResult, error) {
		pc.mu.Lock()
		conn := pc.conn
		pc.mu.Unlock()

		if conn == nil {
			return nil, fmt.Errorf("daemon: source %q: not connected", src.Name)
		}

		syncMode := ldap.ControlSyncRequestModeRefreshOnly
		if src.Mode == source.ModeRefreshAndPersist {
			syncMode = ldap.ControlSyncRequestModeRefreshAndPersist
		}

		req := ldap.NewSearchRequest(
			sec.SearchBase, scope, ldap.NeverDerefAliases,
			sec.SizeLimit, sec.TimeLimit, false,
			filter, attrs,
			[]ldap.Control{wire.BuildSyncRequest(syncMode, cookieBytes, false)},
		)

		return conn.RunSync(ctx, req)
	}
}

func searchAttrs(sec config.SourceSection) []string {
	if len(sec.Attrs) == 0 {
		return []string{"*", "+"}
	}

	return append([]string{"entryUUID", "entryCSN"}, sec.Attrs...)
}

func scopeFor(scope string) int {
	switch scope {
	case "base":
		return ldap.ScopeBaseObject
	case "one":
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}

// tlsConfigForURI builds a minimal tls.Config carrying the provider's
// hostname as the verification server name, for both implicit TLS
// (ldaps://) and explicit StartTLS.
func tlsConfigForURI(rawURL string) *tls.Config {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &tls.Config{}
	}

	return &tls.Config{ServerName: u.Hostname()}
}
