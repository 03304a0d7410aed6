package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/config"
	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("registry")

// DefaultQueue is used when neither the call nor its system names a queue
const DefaultQueue = config.DefaultQueueName

// System holds the defaults of one backend system
type System struct {
	Queue   string
	Timeout time.Duration
}

// Table maps call names to queues and timeouts. A table is immutable once it was
// handed to a registry.
type Table struct {
	DefaultTimeout time.Duration
	Systems        map[string]System
	Calls          map[call.Name]call.Route
}

// NewTable builds the routing table of a configuration document
func NewTable(doc *config.Document) *Table {
	t := &Table{
		DefaultTimeout: config.Millis(doc.DefaultTimeOut),
		Systems:        make(map[string]System, len(doc.Systems)),
		Calls:          make(map[call.Name]call.Route),
	}
	for _, s := range doc.Systems {
		t.Systems[s.Name] = System{Queue: s.DefaultQueue, Timeout: config.Millis(s.DefaultTimeOut)}
		for _, c := range s.Calls {
			t.Calls[call.Name{System: s.Name, Method: c.Method}] = call.Route{
				Queue:   c.Queue,
				Timeout: config.Millis(c.TimeOut),
			}
		}
	}
	return t
}

// Resolve returns the queue and timeout of a call. Queue and timeout resolve
// independently: call override, then system default, then the global default.
// A timeout that stays unset is left zero for the dispatcher to bound.
func (t *Table) Resolve(name call.Name) call.Route {
	var r call.Route
	if override, ok := t.Calls[name]; ok {
		r = override
	}
	sys := t.Systems[name.System]
	if r.Queue == "" {
		r.Queue = sys.Queue
	}
	if r.Queue == "" {
		r.Queue = DefaultQueue
	}
	if r.Timeout <= 0 {
		r.Timeout = sys.Timeout
	}
	if r.Timeout <= 0 {
		r.Timeout = t.DefaultTimeout
	}
	if r.Timeout < 0 {
		r.Timeout = 0
	}
	return r
}

// Queues returns every queue name the table references
func (t *Table) Queues() []string {
	seen := map[string]struct{}{DefaultQueue: {}}
	for _, s := range t.Systems {
		if s.Queue != "" {
			seen[s.Queue] = struct{}{}
		}
	}
	for _, r := range t.Calls {
		if r.Queue != "" {
			seen[r.Queue] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry owns the dispatch pools and the current routing table
type Registry struct {
	pools *xsync.MapOf[string, *pool.Pool]
	table atomic.Pointer[Table]
}

// New creates a registry. If no pool named DefaultQueue is given, one is created
// from pool.DefaultConfig. The table must only reference known pools.
func New(table *Table, pools ...*pool.Pool) (*Registry, error) {
	r := &Registry{pools: xsync.NewMapOf[string, *pool.Pool]()}
	for _, p := range pools {
		if _, dup := r.pools.LoadOrStore(p.Name(), p); dup {
			return nil, fmt.Errorf("%w: pool %q registered twice", config.ErrInvalidConfig, p.Name())
		}
	}
	if _, ok := r.pools.Load(DefaultQueue); !ok {
		p, err := pool.New(pool.DefaultConfig(DefaultQueue))
		if err != nil {
			return nil, err
		}
		log.Infof("no %q queue configured, using %s", DefaultQueue, p.Config())
		r.pools.Store(DefaultQueue, p)
	}
	if table == nil {
		table = &Table{}
	}
	if err := r.check(table); err != nil {
		return nil, err
	}
	r.table.Store(table)
	return r, nil
}

// FromDocument creates the pools and the table described by doc
func FromDocument(doc *config.Document) (*Registry, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	pools := make([]*pool.Pool, 0, len(doc.Queues))
	for _, q := range doc.Queues {
		p, err := pool.New(q.PoolConfig())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		pools = append(pools, p)
	}
	return New(NewTable(doc), pools...)
}

func (r *Registry) check(t *Table) error {
	var errs []error
	for _, q := range t.Queues() {
		if _, ok := r.pools.Load(q); !ok {
			errs = append(errs, fmt.Errorf("%w: queue %q is referenced but not registered", config.ErrInvalidConfig, q))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that every queue referenced by the current table exists
func (r *Registry) Validate() error {
	return r.check(r.table.Load())
}

// Reload swaps the routing table. The new table is validated first, the current
// one stays active if it is invalid. Envelopes that were already routed keep
// their route.
func (r *Registry) Reload(t *Table) error {
	if t == nil {
		return fmt.Errorf("%w: nil table", config.ErrInvalidConfig)
	}
	if err := r.check(t); err != nil {
		return err
	}
	r.table.Store(t)
	log.Infof("routing table reloaded: %d systems, %d call overrides", len(t.Systems), len(t.Calls))
	return nil
}

// Table returns the current routing table
func (r *Registry) Table() *Table {
	return r.table.Load()
}

// Resolve returns the route of a call using the current table
func (r *Registry) Resolve(name call.Name) call.Route {
	return r.table.Load().Resolve(name)
}

// Route resolves the route of an envelope once and caches it on the envelope
func (r *Registry) Route(env *call.Envelope) call.Route {
	if route, ok := env.Route(); ok {
		return route
	}
	return env.SetRoute(r.Resolve(env.Name()))
}

// Pool returns the pool with the given name
func (r *Registry) Pool(name string) (*pool.Pool, bool) {
	return r.pools.Load(name)
}

// Pools returns all pools sorted by name
func (r *Registry) Pools() []*pool.Pool {
	var out []*pool.Pool
	r.pools.Range(func(_ string, p *pool.Pool) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Snapshots returns the statistics of all pools sorted by name
func (r *Registry) Snapshots() []pool.Snapshot {
	pools := r.Pools()
	snaps := make([]pool.Snapshot, len(pools))
	for i, p := range pools {
		snaps[i] = p.Snapshot()
	}
	return snaps
}

// Shutdown shuts down all pools concurrently
func (r *Registry) Shutdown(ctx context.Context) error {
	pools := r.Pools()
	errCh := make(chan error, len(pools))
	for _, p := range pools {
		go func(p *pool.Pool) { errCh <- p.Shutdown(ctx) }(p)
	}
	var errs []error
	for range pools {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
