package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/db/engines/maple"
	"github.com/ValentinKolb/dCall/lib/metrics"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/lib/store/dstore"
	"github.com/ValentinKolb/dCall/lib/store/lstore"
	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/serializer"
	"github.com/ValentinKolb/dCall/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("rpc")

// shutdownTimeout bounds the graceful stop of the transport
const shutdownTimeout = 10 * time.Second

// serverShard is a store served under a shard id together with the adapter
// that translates requests for it
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// Option configures a Server
type Option func(*Server)

// WithMetrics records every handled request
func WithMetrics(m *metrics.RPCMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDBFactory replaces the engine used by local and raft shards (default maple)
func WithDBFactory(f store.DBFactory) Option {
	return func(s *Server) { s.dbFactory = f }
}

// Server serves stores to remote clients, one store per shard id.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		http.NewHttpServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	if err := s.Serve(ctx); err != nil {
//		log.Fatal(err)
//	}
type Server struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	metrics    *metrics.RPCMetrics
	dbFactory  store.DBFactory

	shards   *xsync.MapOf[uint64, serverShard]
	nodeHost *dragonboat.NodeHost
}

// NewRPCServer creates a server. Shards from config are created by Serve,
// more can be added with AddShard.
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	opts ...Option,
) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &Server{
		config:     config,
		transport:  transport,
		serializer: serializer,
		dbFactory:  func() db.KVDB { return maple.NewMapleDB(nil) },
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddShard serves st under shardID. An existing shard with the same id is replaced.
func (s *Server) AddShard(shardID uint64, st store.IStore) {
	s.shards.Store(shardID, serverShard{Store: st, Adapter: NewIStoreServerAdapter()})
}

// Handle processes one serialized request for a shard. It is registered as
// the transport handler and never fails: every error becomes an error response.
func (s *Server) Handle(ctx context.Context, shardID uint64, req []byte) []byte {
	var resp *common.Message
	var msg common.Message
	start := time.Now()

	if shard, ok := s.shards.Load(shardID); !ok {
		resp = common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("shard %d not found", shardID))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		resp = shard.Adapter.Handle(ctx, &msg, shard.Store)
	}
	s.metrics.Observe(msg.MsgType.String(), resp.Err != "" || resp.MsgType == common.MsgTError, time.Since(start))

	out, err := s.serializer.Serialize(*resp)
	if err != nil {
		log.Errorf("failed to serialize response for shard %d: %v", shardID, err)
		out, _ = s.serializer.Serialize(*common.NewErrorResponse(store.RetCInternalError, "failed to serialize response"))
	}
	return out
}

// Init creates the shards listed in the configuration. Raft shards share one
// NodeHost, which is only started if at least one raft shard is configured.
func (s *Server) Init() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if s.config.HasRaftShard() {
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nh
	}

	for _, shardConfig := range s.config.Shards {
		switch shardConfig.Type {
		case common.ShardTypeLocalIStore:
			s.AddShard(shardConfig.ShardID, lstore.NewLocalStore(s.dbFactory))
			log.Infof("created local store for shard %d", shardConfig.ShardID)

		case common.ShardTypeRaftIStore:
			err := s.nodeHost.StartConcurrentReplica(
				s.config.ClusterMembers,
				false,
				dstore.CreateStateMaschineFactory(s.dbFactory),
				s.config.ToDragonboatConfig(shardConfig.ShardID),
			)
			if err != nil {
				return fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
			}
			s.AddShard(shardConfig.ShardID, dstore.NewDistributedStore(s.nodeHost, shardConfig.ShardID, s.config.Timeout()))
			log.Infof("started raft replica %d for shard %d", s.config.ReplicaID, shardConfig.ShardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}
	}
	return nil
}

// Serve creates the configured shards and serves requests until ctx is done
// or the transport fails. All shards are closed before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Init(); err != nil {
		return errors.Join(err, s.Close())
	}
	s.transport.RegisterHandler(s.Handle)
	log.Infof("cache node ready%s", s.config.String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.transport.Listen(s.config) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = s.transport.Shutdown(sctx)
		cancel()
		<-errCh
	}
	return errors.Join(err, s.Close())
}

// Close closes every shard store and stops the NodeHost
func (s *Server) Close() error {
	var errs []error
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if c, ok := shard.Store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close shard %d: %w", id, err))
			}
		}
		s.shards.Delete(id)
		return true
	})
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	return errors.Join(errs...)
}
