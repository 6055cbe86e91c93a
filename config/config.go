package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/jinzhu/configor"
	"github.com/storozhukBM/verifier"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matoous/hookmta/mta"
	"github.com/matoous/hookmta/policy"
)

// Config of the whole server, loaded from YAML, JSON or TOML files and HOOKMTA_ environment variables
type Config struct {
	Me string `required:"true"` // hostname the server announces

	Log      LogConfig
	SMTP     SMTPConfig
	POP3     POP3Config
	Limits   LimitsConfig
	Greylist GreylistConfig
	DNSRBL   DNSRBLConfig
	Tarpit   TarpitConfig
	Store    StoreConfig
	Metrics  MetricsConfig
	Users    []UserConfig
}

type LogConfig struct {
	Mode  string `default:"production"` // production or development
	Level string `default:"info"`
}

type SMTPConfig struct {
	Addr              string   `default:":2525"`
	Software          string   `default:"hookmta"`
	Announce          string   // extra stuff to announce in greeting banner
	RelayNetworks     []string // clients allowed to relay, CIDR or single IP
	LocalDomains      []string // domains accepted from everybody else
	CheckSenderDomain bool
	ReverseLookup     bool
}

type POP3Config struct {
	Disabled bool
	Addr     string `default:":1110"`
}

type LimitsConfig struct {
	CmdInput     time.Duration `default:"5m"`
	MsgInput     time.Duration `default:"10m"`
	ReplyOut     time.Duration `default:"2m"`
	MsgSize      int64         `default:"5242880"`
	BadCmds      int           `default:"5"`
	MaxRcptCount int           `default:"200"`
	LineLength   int           `default:"512"`
}

type GreylistConfig struct {
	Disabled              bool
	TempBlockTime         time.Duration `default:"1h"`
	AutoWhiteListLifeTime time.Duration `default:"864h"`
	UnseenLifeTime        time.Duration `default:"4h"`
	CleanupProbability    float64       `default:"0.01"`
}

type DNSRBLConfig struct {
	Whitelist []string
	Blacklist []string
	NoDetail  bool // skip the TXT lookup of the listing reason
}

type TarpitConfig struct {
	Threshold int           // recipients accepted without delay, 0 disables the tarpit
	Timeout   time.Duration `default:"1s"`
}

type StoreConfig struct {
	Driver string `default:"memory"` // memory, sqlite, mysql or redis
	Source string // dsn, file or redis address
}

type MetricsConfig struct {
	Addr string `default:":9125"` // empty disables the metrics endpoint
}

// UserConfig is a POP3 mailbox, Name being its address
type UserConfig struct {
	Name     string
	Password string
}

// Load reads the files in order, later ones override earlier ones
func Load(files ...string) (*Config, error) {
	cfg := new(Config)
	err := configor.New(&configor.Config{ENVPrefix: "HOOKMTA"}).Load(cfg, files...)
	if err != nil {
		return nil, errors.WrapPrefix(err, "loading configuration", 0)
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Verify checks the semantics configor can't
func (c *Config) Verify() error {
	v := verifier.New()
	v.That(len(c.Me) > 0, "me is empty")
	v.That(validAddr(c.SMTP.Addr), "invalid smtp address %q", c.SMTP.Addr)
	if !c.POP3.Disabled {
		v.That(validAddr(c.POP3.Addr), "invalid pop3 address %q", c.POP3.Addr)
	}
	if c.Metrics.Addr != "" {
		v.That(validAddr(c.Metrics.Addr), "invalid metrics address %q", c.Metrics.Addr)
	}
	for _, n := range c.SMTP.RelayNetworks {
		v.That(validNetwork(n), "invalid relay network %q", n)
	}
	v.That(c.Log.Mode == "production" || c.Log.Mode == "development", "log mode must be production or development")
	var level zapcore.Level
	v.That(level.UnmarshalText([]byte(c.Log.Level)) == nil, "invalid log level %q", c.Log.Level)

	v.That(c.Limits.CmdInput >= 0, "command input timeout must be positive")
	v.That(c.Limits.MsgSize > 0, "message size must be positive")
	v.That(c.Limits.MaxRcptCount > 0, "max recipient count must be positive")
	v.That(c.Limits.LineLength >= 512, "line length must be at least 512")

	v.That(c.Greylist.CleanupProbability >= 0 && c.Greylist.CleanupProbability <= 1, "greylist cleanup probability must be between 0 and 1")
	v.That(c.Greylist.TempBlockTime >= 0, "greylist temp block time must be positive")
	v.That(c.Tarpit.Threshold >= 0, "tarpit threshold must be positive")

	switch strings.ToLower(c.Store.Driver) {
	case "memory", "":
	case "sqlite", "sqlite3", "mysql", "redis":
		v.That(len(c.Store.Source) > 0, "store %s needs a source", c.Store.Driver)
	default:
		v.That(false, "unknown store driver %q", c.Store.Driver)
	}
	for i, u := range c.Users {
		v.That(len(u.Name) > 0, "user %d has no name", i)
	}
	return v.GetError()
}

func validAddr(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port != ""
}

func validNetwork(n string) bool {
	if strings.Contains(n, "/") {
		_, _, err := net.ParseCIDR(n)
		return err == nil
	}
	return net.ParseIP(n) != nil
}

// Logger builds the zap logger described by Log
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Mode == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	if err := zc.Level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, errors.WrapPrefix(err, "log level", 0)
	}
	log, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return log.With(zap.String("me", c.Me)), nil
}

// MTALimits converts Limits for the servers
func (c *Config) MTALimits() mta.Limits {
	return mta.Limits{
		CmdInput:     c.Limits.CmdInput,
		MsgInput:     c.Limits.MsgInput,
		ReplyOut:     c.Limits.ReplyOut,
		MsgSize:      c.Limits.MsgSize,
		BadCmds:      c.Limits.BadCmds,
		MaxRcptCount: c.Limits.MaxRcptCount,
		LineLength:   c.Limits.LineLength,
	}
}

// GreylistPolicy converts Greylist for the greylist hook
func (c *Config) GreylistPolicy() policy.GreylistConfig {
	return policy.GreylistConfig{
		TempBlockTime:         c.Greylist.TempBlockTime,
		AutoWhiteListLifeTime: c.Greylist.AutoWhiteListLifeTime,
		UnseenLifeTime:        c.Greylist.UnseenLifeTime,
		CleanupProbability:    c.Greylist.CleanupProbability,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("me=%s smtp=%s pop3=%s store=%s", c.Me, c.SMTP.Addr, c.POP3.Addr, c.Store.Driver)
}
