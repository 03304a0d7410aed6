package dispatch

import (
	"time"

	"github.com/ValentinKolb/dCall/lib/call"
	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// Sink observes calls. Submitted runs before the envelope is handed to its pool,
// Completed once the call is terminal. Implementations must be safe for
// concurrent use, panics are recovered by the dispatcher.
type Sink interface {
	Submitted(env *call.Envelope, snap pool.Snapshot)
	Completed(env *call.Envelope, snap pool.Snapshot)
}

// LogSink writes one line per finished call. Too-busy warnings are throttled per
// pool so an overloaded queue does not flood the log.
type LogSink struct {
	log      logger.ILogger
	limit    rate.Limit
	burst    int
	limiters *xsync.MapOf[string, *rate.Limiter]
}

// NewLogSink logs through the dispatch logger and allows one too-busy warning
// per second and pool (with a small burst)
func NewLogSink() *LogSink {
	return &LogSink{
		log:      log,
		limit:    rate.Every(time.Second),
		burst:    5,
		limiters: xsync.NewMapOf[string, *rate.Limiter](),
	}
}

func (s *LogSink) Submitted(env *call.Envelope, snap pool.Snapshot) {
	s.log.Debugf("submitted %s to %s [%s]", env.Name(), snap, env.Fields())
}

func (s *LogSink) Completed(env *call.Envelope, snap pool.Snapshot) {
	res := env.Result()
	stats := env.Stats()
	switch res.Status() {
	case call.StatusSuccess:
		s.log.Debugf("%s %s (%s) [%s]", env.Name(), res.Status(), stats, env.Fields())
	case call.StatusTooBusy:
		if s.allow(snap.Name) {
			s.log.Warningf("%s rejected: %s [%s]", env.Name(), snap, env.Fields())
		}
	case call.StatusTimedOut:
		s.log.Warningf("%s timed out: %v (%s, %s) [%s]", env.Name(), res.Err(), stats, snap, env.Fields())
	default:
		s.log.Errorf("%s %s: %v (%s) [%s]", env.Name(), res.Status(), res.Err(), stats, env.Fields())
	}
}

func (s *LogSink) allow(poolName string) bool {
	l, _ := s.limiters.LoadOrCompute(poolName, func() *rate.Limiter {
		return rate.NewLimiter(s.limit, s.burst)
	})
	return l.Allow()
}
