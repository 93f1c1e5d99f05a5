// Package config parses the wwproxy CLI surface, validates the configured
// WebSocket endpoints, loads upstream mTLS material, and builds the
// process-wide logger.
package config

import (
	"crypto/tls"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/koodaamo/wwproxy/internal/proxyerr"
)

// Defaults mirror the source proxy's twistd plugin option defaults.
const (
	DefaultServerURI      = "ws://127.0.0.1:9000/ws"
	DefaultRouterURI      = "ws://127.0.0.1:8080/ws"
	DefaultClientKeyPath  = "key.pem"
	DefaultClientCertPath = "cert.pem"
	DefaultCallTimeout    = 30 * time.Second
	DefaultMaxConnections = 40
	DefaultLogLevel       = "info"
)

// Config is the fully parsed, validated process configuration.
type Config struct {
	ServerURI      string
	RouterURI      string
	ClientKeyPath  string
	ClientCertPath string
	Debug          bool
	LogLevel       string
	CallTimeout    time.Duration
	MaxConnections int
	// LegacyDelimited enables the colon-delimited alternate request dialect
	// (§6) alongside the normative JSON form. Off by default.
	LegacyDelimited bool

	ServerHost string
	ServerPort string
	ServerPath string

	RouterHost string
	TLSConfig  *tls.Config
}

// Load parses args (typically os.Args[1:]) into a validated Config. A
// non-nil error is always a ConfigError (fatal at start-up, per §7).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("wwproxy", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.ServerURI, "server", DefaultServerURI, "downstream listener WebSocket URI")
	fs.StringVar(&cfg.ServerURI, "s", DefaultServerURI, "downstream listener WebSocket URI (shorthand)")
	fs.StringVar(&cfg.RouterURI, "router", DefaultRouterURI, "upstream WAMP router WebSocket URI")
	fs.StringVar(&cfg.RouterURI, "r", DefaultRouterURI, "upstream WAMP router WebSocket URI (shorthand)")
	fs.StringVar(&cfg.ClientKeyPath, "client_key", DefaultClientKeyPath, "PEM private key for upstream mTLS")
	fs.StringVar(&cfg.ClientKeyPath, "k", DefaultClientKeyPath, "PEM private key for upstream mTLS (shorthand)")
	fs.StringVar(&cfg.ClientCertPath, "client_certificate", DefaultClientCertPath, "PEM certificate for upstream mTLS")
	fs.StringVar(&cfg.ClientCertPath, "c", DefaultClientCertPath, "PEM certificate for upstream mTLS (shorthand)")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	fs.BoolVar(&cfg.Debug, "d", false, "enable debug logging (shorthand)")
	fs.StringVar(&cfg.LogLevel, "log-level", DefaultLogLevel, "log level: debug, info, warn, error")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", DefaultCallTimeout, "per-request upstream call deadline")
	fs.IntVar(&cfg.MaxConnections, "max-connections", DefaultMaxConnections, "maximum concurrent downstream connections")
	fs.BoolVar(&cfg.LegacyDelimited, "legacy-delimited", false, "also accept the colon-delimited alternate request dialect")

	if err := fs.Parse(args); err != nil {
		return nil, proxyerr.Config("parsing command-line flags", err)
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.parseEndpoints(); err != nil {
		return nil, err
	}

	tlsCfg, err := buildTLSConfig(cfg.RouterURI, cfg.ClientKeyPath, cfg.ClientCertPath)
	if err != nil {
		return nil, err
	}
	cfg.TLSConfig = tlsCfg

	return cfg, nil
}

func (c *Config) parseEndpoints() error {
	su, err := url.Parse(c.ServerURI)
	if err != nil || su.Scheme != "ws" && su.Scheme != "wss" {
		return proxyerr.Config(fmt.Sprintf("invalid server URI %q", c.ServerURI), err)
	}
	if su.Hostname() == "" {
		return proxyerr.Config(fmt.Sprintf("server URI %q has no host", c.ServerURI), nil)
	}
	c.ServerHost = su.Hostname()
	c.ServerPort = su.Port()
	if c.ServerPort == "" {
		if su.Scheme == "wss" {
			c.ServerPort = "443"
		} else {
			c.ServerPort = "80"
		}
	}
	c.ServerPath = su.Path
	if c.ServerPath == "" {
		c.ServerPath = "/"
	}

	ru, err := url.Parse(c.RouterURI)
	if err != nil || ru.Scheme != "ws" && ru.Scheme != "wss" {
		return proxyerr.Config(fmt.Sprintf("invalid router URI %q", c.RouterURI), err)
	}
	if ru.Hostname() == "" {
		return proxyerr.Config(fmt.Sprintf("router URI %q has no host", c.RouterURI), nil)
	}
	c.RouterHost = ru.Hostname()

	return nil
}

// buildTLSConfig loads the mTLS client certificate when the router URI is
// secure. A wss:// router always requires loadable cert/key material: the
// source proxy switches on client certificates unconditionally once the
// scheme is secure (wwproxy/main.py's makeService), so a missing/unreadable
// pair is a fatal ConfigError rather than a silent fallback to server-auth
// only.
func buildTLSConfig(routerURI, keyPath, certPath string) (*tls.Config, error) {
	u, err := url.Parse(routerURI)
	if err != nil || u.Scheme != "wss" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, proxyerr.Config(fmt.Sprintf("loading client certificate %q / key %q", certPath, keyPath), err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
	}, nil
}
