// Package config reads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"shvattr/codec"
	"shvattr/method"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultAddr        = "127.0.0.1:3755"
	defaultListenAddr  = ":3755"
	defaultMetricsAddr = ":9100"
	defaultDevice      = "shvdevice"
	defaultPoolSize    = 1
	defaultCallTimeout = 10 * time.Second
	defaultBalancer    = "hash"
	defaultACLPath     = ".broker/acl"

	envEtcdEndpoints = "SHVATTR_ETCD_ENDPOINTS"
	envAddr          = "SHVATTR_ADDR"
	envDevice        = "SHVATTR_DEVICE"
	envCodec         = "SHVATTR_CODEC"
	envAccess        = "SHVATTR_ACCESS"
	envPoolSize      = "SHVATTR_POOL_SIZE"
	envLogLevel      = "SHVATTR_LOG_LEVEL"
	envListenAddr    = "SHVATTR_LISTEN_ADDR"
	envMetricsAddr   = "SHVATTR_METRICS_ADDR"
	envCallTimeout   = "SHVATTR_CALL_TIMEOUT"
	envBalancer      = "SHVATTR_BALANCER"
	envACLPath       = "SHVATTR_ACL_PATH"
	envDevelopment   = "SHVATTR_DEV_LOG"
)

// Config holds settings shared by the client and the demo device.
type Config struct {
	// EtcdEndpoints enables registry discovery; when empty, clients dial Addr directly
	// and devices do not register.
	EtcdEndpoints []string
	Addr          string // device address for direct dialing
	Device        string // device name in the registry
	Codec         codec.CodecType
	Access        method.AccessLevel // access level sent with every call
	PoolSize      int
	CallTimeout   time.Duration
	Balancer      string
	ACLPath       string

	ListenAddr  string // device listen address
	MetricsAddr string // device /metrics listen address; empty disables it

	LogLevel       zapcore.Level
	DevelopmentLog bool
}

// Load reads the environment over the defaults. Malformed values are errors.
func Load() (Config, error) {
	cfg := Config{
		Addr:        defaultAddr,
		Device:      defaultDevice,
		Codec:       codec.CodecTypeJSON,
		Access:      method.Command,
		PoolSize:    defaultPoolSize,
		CallTimeout: defaultCallTimeout,
		Balancer:    defaultBalancer,
		ACLPath:     defaultACLPath,
		ListenAddr:  defaultListenAddr,
		MetricsAddr: defaultMetricsAddr,
		LogLevel:    zapcore.InfoLevel,
	}

	var errs []error
	if v := os.Getenv(envEtcdEndpoints); v != "" {
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				cfg.EtcdEndpoints = append(cfg.EtcdEndpoints, ep)
			}
		}
	}
	if v := os.Getenv(envAddr); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(envDevice); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv(envCodec); v != "" {
		ct, ok := codec.ParseCodecType(v)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: unknown codec %q", envCodec, v))
		}
		cfg.Codec = ct
	}
	if v := os.Getenv(envAccess); v != "" {
		al, err := method.ParseAccessLevel(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envAccess, err))
		} else {
			cfg.Access = al
		}
	}
	if v := os.Getenv(envPoolSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envPoolSize, err))
		}
		cfg.PoolSize = n
	}
	if v := os.Getenv(envCallTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envCallTimeout, err))
		}
		cfg.CallTimeout = d
	}
	if v := os.Getenv(envLogLevel); v != "" {
		lvl, err := zapcore.ParseLevel(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envLogLevel, err))
		} else {
			cfg.LogLevel = lvl
		}
	}
	if v := os.Getenv(envBalancer); v != "" {
		cfg.Balancer = v
	}
	if v := os.Getenv(envACLPath); v != "" {
		cfg.ACLPath = strings.Trim(v, "/")
	}
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv(envMetricsAddr); ok {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv(envDevelopment); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envDevelopment, err))
		}
		cfg.DevelopmentLog = b
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that parse but make no sense.
func (c Config) Validate() error {
	var errs []error
	if c.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("pool size must be positive, got %d", c.PoolSize))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout))
	}
	if c.Device == "" {
		errs = append(errs, errors.New("device name must not be empty"))
	}
	switch c.Balancer {
	case "roundrobin", "weighted", "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown balancer %q", c.Balancer))
	}
	return errors.Join(errs...)
}

// NewLogger builds a JSON production logger, or a console development logger,
// at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.DevelopmentLog {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
