package pdx

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/rawbytedev/pdx/internal/logging"
	"github.com/rawbytedev/pdx/internal/metrics"
	"github.com/rawbytedev/pdx/pkg/registry"
)

// Options configures a Serializer.
type Options struct {
	// ReadSerialized makes Deserialize return *Instance even for classes with
	// a registered factory.
	ReadSerialized bool `yaml:"read_serialized"`
	// IgnoreUnreadFields disables capturing fields that only a newer version
	// of a class knows about.
	IgnoreUnreadFields bool          `yaml:"ignore_unread_fields"`
	PreservedDataTTL   time.Duration `yaml:"preserved_data_ttl"`
	LogLevel           string        `yaml:"log_level"`
	MetricsNamespace   string        `yaml:"metrics_namespace"`
	// DistributedSystemID is used when the serializer creates its own
	// in-memory authority.
	DistributedSystemID int8 `yaml:"distributed_system_id"`
}

func DefaultOptions() Options {
	return Options{
		PreservedDataTTL: registry.DefaultPreservedTTL,
		LogLevel:         "info",
		MetricsNamespace: "pdx",
	}
}

// LoadOptions reads yaml options from path on top of DefaultOptions.
func LoadOptions(path string) (Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	return ParseOptions(b)
}

// ParseOptions decodes yaml options on top of DefaultOptions.
func ParseOptions(b []byte) (Options, error) {
	o := DefaultOptions()
	if err := yaml.Unmarshal(b, &o); err != nil {
		return Options{}, fmt.Errorf("pdx: parse options: %w", err)
	}
	if o.PreservedDataTTL < 0 {
		return Options{}, fmt.Errorf("pdx: preserved_data_ttl must not be negative, got %s", o.PreservedDataTTL)
	}
	return o, nil
}

// Option customizes NewSerializer.
type Option func(*config) error

type config struct {
	opts     Options
	logger   logging.Logger
	recorder metrics.Recorder
	promReg  prometheus.Registerer
}

func WithOptions(o Options) Option {
	return func(c *config) error {
		c.opts = o
		return nil
	}
}

func WithLogger(l logging.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}

// WithMetrics sends serializer and registry events to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *config) error {
		c.recorder = r
		return nil
	}
}

// WithPrometheus registers prometheus collectors, named after
// Options.MetricsNamespace, on reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(c *config) error {
		c.promReg = reg
		return nil
	}
}
