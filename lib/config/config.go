package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation error
var ErrInvalidConfig = errors.New("invalid configuration")

// GuardQueueName is the pool name used when the guard section has no name
const GuardQueueName = "async-guard"

// Document is the routing configuration: queues, systems and their calls.
// All durations are milliseconds.
type Document struct {
	DefaultTimeOut int64    `mapstructure:"default_time_out" yaml:"default_time_out,omitempty" json:"default_time_out,omitempty"`
	Guard          *Queue   `mapstructure:"guard" yaml:"guard,omitempty" json:"guard,omitempty"`
	Queues         []Queue  `mapstructure:"queues" yaml:"queues" json:"queues"`
	Systems        []System `mapstructure:"systems" yaml:"systems" json:"systems"`
}

// Queue configures one dispatch pool
type Queue struct {
	Name               string `mapstructure:"name" yaml:"name" json:"name"`
	CorePoolSize       int    `mapstructure:"core_pool_size" yaml:"core_pool_size" json:"core_pool_size"`
	MaxPoolSize        int    `mapstructure:"max_pool_size" yaml:"max_pool_size" json:"max_pool_size"`
	KeepAliveTime      int64  `mapstructure:"keep_alive_time" yaml:"keep_alive_time" json:"keep_alive_time"`
	MaxPendingRequests int    `mapstructure:"max_pending_requests" yaml:"max_pending_requests" json:"max_pending_requests"`
}

// System is a backend with its default queue, default timeout and per-call overrides
type System struct {
	Name           string `mapstructure:"name" yaml:"name" json:"name"`
	DefaultQueue   string `mapstructure:"default_queue" yaml:"default_queue,omitempty" json:"default_queue,omitempty"`
	DefaultTimeOut int64  `mapstructure:"default_time_out" yaml:"default_time_out,omitempty" json:"default_time_out,omitempty"`
	Calls          []Call `mapstructure:"calls" yaml:"calls,omitempty" json:"calls,omitempty"`
}

// Call overrides the queue and/or the timeout of a single method
type Call struct {
	Method  string `mapstructure:"method" yaml:"method" json:"method"`
	TimeOut int64  `mapstructure:"time_out" yaml:"time_out,omitempty" json:"time_out,omitempty"`
	Queue   string `mapstructure:"queue" yaml:"queue,omitempty" json:"queue,omitempty"`
}

// PoolConfig converts the queue section into a pool configuration
func (q Queue) PoolConfig() pool.Config {
	return pool.Config{
		Name:          q.Name,
		CoreSize:      q.CorePoolSize,
		MaxSize:       q.MaxPoolSize,
		QueueCapacity: q.MaxPendingRequests,
		KeepAlive:     Millis(q.KeepAliveTime),
	}
}

// Millis converts a millisecond value of the document into a duration
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

// Load reads a JSON or YAML document from path. The format is taken from the
// file extension. The returned document is validated.
func Load(path string) (*Document, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

// Parse reads a document of the given format ("json", "yaml") from r
func Parse(r io.Reader, format string) (*Document, error) {
	v := viper.New()
	v.SetConfigType(strings.TrimPrefix(strings.ToLower(format), "."))
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return decode(v)
}

// FormatOf returns the config type viper uses for a file name
func FormatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func decode(v *viper.Viper) (*Document, error) {
	doc := &Document{}
	if err := v.Unmarshal(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// YAML renders the document
func (d *Document) YAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// Validate checks the document and returns all problems at once. Every queue
// referenced by a system or a call must be defined, the implicit "default"
// queue is the only exception.
func (d *Document) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if d.DefaultTimeOut < 0 {
		fail("default_time_out must not be negative")
	}

	queues := make(map[string]struct{}, len(d.Queues))
	for i, q := range d.Queues {
		if q.Name == "" {
			fail("queue #%d has no name", i)
			continue
		}
		if _, dup := queues[q.Name]; dup {
			fail("queue %q is defined twice", q.Name)
		}
		queues[q.Name] = struct{}{}
		if q.KeepAliveTime < 0 {
			fail("queue %q: keep_alive_time must not be negative", q.Name)
		}
		if err := q.PoolConfig().Validate(); err != nil {
			fail("%v", err)
		}
	}

	if d.Guard != nil {
		g := *d.Guard
		if g.Name == "" {
			g.Name = GuardQueueName
		}
		if _, clash := queues[g.Name]; clash {
			fail("guard pool name %q clashes with a queue", g.Name)
		}
		if err := g.PoolConfig().Validate(); err != nil {
			fail("guard: %v", err)
		}
	}

	known := func(name string) bool {
		if name == DefaultQueueName {
			return true
		}
		_, ok := queues[name]
		return ok
	}

	systems := make(map[string]struct{}, len(d.Systems))
	for i, s := range d.Systems {
		if s.Name == "" {
			fail("system #%d has no name", i)
			continue
		}
		if _, dup := systems[s.Name]; dup {
			fail("system %q is defined twice", s.Name)
		}
		systems[s.Name] = struct{}{}
		if s.DefaultQueue != "" && !known(s.DefaultQueue) {
			fail("system %q references unknown queue %q", s.Name, s.DefaultQueue)
		}
		if s.DefaultTimeOut < 0 {
			fail("system %q: default_time_out must not be negative", s.Name)
		}
		methods := make(map[string]struct{}, len(s.Calls))
		for j, c := range s.Calls {
			if c.Method == "" {
				fail("system %q: call #%d has no method", s.Name, j)
				continue
			}
			if _, dup := methods[c.Method]; dup {
				fail("system %q: method %q is defined twice", s.Name, c.Method)
			}
			methods[c.Method] = struct{}{}
			if c.Queue != "" && !known(c.Queue) {
				fail("call %s.%s references unknown queue %q", s.Name, c.Method, c.Queue)
			}
			if c.TimeOut < 0 {
				fail("call %s.%s: time_out must not be negative", s.Name, c.Method)
			}
		}
	}

	return errors.Join(errs...)
}

// DefaultQueueName is the queue used when neither call nor system name one
const DefaultQueueName = "default"
