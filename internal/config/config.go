// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the replication engine.
package config

// Config is the top-level configuration structure: one instance holds the
// global defaults plus every configured source directive.
type Config struct {
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`

	Databases []DatabaseSection `toml:"database"`

	Sources []SourceSection `toml:"source"`
}

// DatabaseSection is one `[[database]]` TOML table: the host directory a
// group of `[[source]]` directives sharing the same `database` key
// write their replicated entries into. This module never hosts the
// directory itself — it is always addressed over LDAP, loopback or
// otherwise.
type DatabaseSection struct {
	Name string `toml:"name"` // matches SourceSection.Database
	URI string `toml:"uri"`
	BindDN string `toml:"binddn"`
	BindPW string `toml:"bindpw"`
	ContextDN string `toml:"contextdn"`
	ContextAttr string `toml:"contextattr"` // defaults to "contextCSN"
	UUIDAttr string `toml:"uuidattr"` // defaults to "entryUUID"
	StampAttr string `toml:"stampattr"` // defaults to "entryCSN"
}

// NetworkConfig controls connection behavior shared by every source unless
// overridden per-source.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	ReadTimeout string `toml:"read_timeout"`
	TLS string `toml:"tls"` // "off" | "starttls" | "ldaps"
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `toml:"level"`
	Format string `toml:"format"` // "auto" | "text" | "json"
	File string `toml:"file"`
}

// SourceSection is one `[[source]]` TOML table: the textual consumer
// directive for a single remote provider.
type SourceSection struct {
	RID int `toml:"rid"`
	Provider string `toml:"provider"`
	SearchBase string `toml:"searchbase"`
	Scope string `toml:"scope"` // "base" | "one" | "sub"
	Filter string `toml:"filter"`
	Type string `toml:"type"` // "refreshOnly" | "refreshAndPersist" | "dirSync"
	SyncData string `toml:"syncdata"` // "plain" | "access-log" | "change-log"
	IntervalSeconds int `toml:"interval"`
	Retry string `toml:"retry"` // "60 +" or "60 5 300 5 3600 +"
	Attrs []string `toml:"attrs"`
	ExAttrs []string `toml:"exattrs"`
	SchemaChecking bool `toml:"schemachecking"`
	LogBase string `toml:"logbase"`
	LogFilter string `toml:"logfilter"`
	SuffixMassage string `toml:"suffixmassage"`
	ManageDSAIt bool `toml:"manageDSAit"`
	SizeLimit int `toml:"sizelimit"`
	TimeLimit int `toml:"timelimit"`
	LazyCommit bool `toml:"lazycommit"`
	StrictRefresh bool `toml:"strictrefresh"`
	BindDN string `toml:"binddn"`
	BindPW string `toml:"bindpw"`
	ServerID int `toml:"serverID"`
	Database string `toml:"database"` // groups sources sharing one Cookie State
}
