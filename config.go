package pluginrt

import (
	"time"

	kratosconfig "github.com/go-kratos/kratos/v2/config"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"github.com/lynxforge/pluginrt/internal/logadapter"
	"github.com/lynxforge/pluginrt/plugins"
	"github.com/lynxforge/pluginrt/security"
)

// Config holds the tunables a Manager needs at construction time. This is
// the narrower "tunable values only" role SPEC_FULL.md assigns the runtime
// core, in contrast to the teacher's boot/ package which drives an entire
// Kratos microservice's bootstrap from config.Config — out of this core's
// scope per spec.md §1. A kratos/v2/config Source can be stored on the
// struct, but the tunables are taken from the struct fields only.
type Config struct {
	// HostVersion gates min_host_version/max_host_version checks at load,
	// per spec.md §4.1 step 4.
	HostVersion string

	// Security controls the validator's default level, signature
	// verification, and allowed capability/extension sets.
	Security security.Config

	// ResourceCleanupInterval is passed to resource.NewManager.
	ResourceCleanupInterval time.Duration

	// LoadTimeout bounds load_plugin end to end when the caller supplies no
	// explicit per-call timeout, per spec.md §5.
	LoadTimeout time.Duration
	// InitTimeout/StartTimeout/StopTimeout bound individual plugin callback
	// invocations during batch loads and shutdown_all.
	InitTimeout  time.Duration
	StartTimeout time.Duration
	StopTimeout  time.Duration

	// StartParallelism bounds concurrent goroutines loading plugins within
	// one dependency level.
	StartParallelism int

	// CircuitBreakerThreshold/Timeout configure the per-plugin
	// execute_command breaker (recovery.go).
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration

	// Logger receives structured diagnostics; a nil Logger falls back to
	// logadapter's zerolog-backed kratos adapter writing to stderr (no file
	// rotation unless a host wires logadapter.New with Options of its own).
	Logger kratoslog.Logger

	// Source is carried on the Config but not read by New or applyDefaults:
	// fields left zero-valued get the defaults in applyDefaults, not values
	// from Source.
	Source kratosconfig.Source

	// LoaderName selects which registered loader the Manager uses as its
	// active loader; empty means the factory's bundled "default"
	// (loader.DefaultLoader). Tests register a fake loader under another
	// name on an injected *loader.Factory and set this field, per spec.md
	// §9's "tests must be able to instantiate a manager without touching
	// global state."
	LoaderName string
}

func (c *Config) applyDefaults() {
	if c.ResourceCleanupInterval <= 0 {
		c.ResourceCleanupInterval = time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 10 * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 10 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.StartParallelism <= 0 {
		c.StartParallelism = 4
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logadapter.New(logadapter.Options{})
	}
}

func (c *Config) hostVersion() (*plugins.Version, *plugins.Error) {
	if c.HostVersion == "" {
		return nil, nil
	}
	v, err := plugins.Parse(c.HostVersion)
	if err != nil {
		return nil, plugins.Newf(plugins.InvalidArgument, "invalid host version %q: %v", c.HostVersion, err)
	}
	return v, nil
}
