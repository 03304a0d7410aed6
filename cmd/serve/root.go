package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	cmdUtil "github.com/ValentinKolb/dCall/cmd/util"
	"github.com/ValentinKolb/dCall/lib/db/util"
	"github.com/ValentinKolb/dCall/lib/metrics"
	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a cache node",
		Long: `Start a cache node serving the shared store of the version-checked caches.
The configuration can be set via command line flags or environment variables. The format of the environment variables is DCALL_<flag> (e.g. DCALL_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "shards"
	ServeCmd.PersistentFlags().String(key, "1=local", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: local, raft"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raft) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Election and heartbeat timeouts are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(raft) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied log entries. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(raft) CompactionOverhead defines the number of log entries kept after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(raft) DataDir is the directory used for the raft log and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft) ReplicaID is the unique name of this node (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft) ClusterMembers is a comma-separated list of raft addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(raft) Timeout of a raft proposal in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the rpc api will listen (host:port, a socket path for the unix transport)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9090", cmdUtil.WrapString("The address serving /metrics and /health, empty to disable"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// parseShards parses the ID=TYPE list of the shards flag
func parseShards(value string) ([]common.ServerShard, error) {
	var shards []common.ServerShard
	for _, shardConfig := range strings.Split(value, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}
		shardType, err := common.ParseShardType(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, err
		}
		shards = append(shards, common.ServerShard{ShardID: shardID, Type: shardType})
	}
	return shards, nil
}

// parseMembers parses the name=address list of the cluster-members flag.
// Names are hashed into replica ids.
func parseMembers(value string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(value, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[uint64(util.HashString(strings.TrimSpace(parts[0]), 0))] = strings.TrimSpace(parts[1])
	}
	return members, nil
}

// processConfig converts flags and environment variables into the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = uint64(util.HashString(id, 0))
	} else if serveCmdConfig.HasRaftShard() {
		return fmt.Errorf("replica-id is required for raft shards")
	}

	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		if serveCmdConfig.ClusterMembers, err = parseMembers(clusterMembers); err != nil {
			return err
		}
	} else if serveCmdConfig.HasRaftShard() {
		return fmt.Errorf("cluster-members is required for raft shards")
	}

	return serveCmdConfig.Validate()
}

// run starts the rpc server and the metrics endpoint until a signal arrives
// or one of them fails
func run(cmd *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	rpcMetrics, err := metrics.NewRPCMetrics(reg)
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
		server.WithMetrics(rpcMetrics),
	)

	ctx, stop := cmdUtil.SignalContext(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serv.Serve(ctx)
	})

	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer := &http.Server{
			Addr:              serveCmdConfig.MetricsEndpoint,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(sctx)
		})
	}

	return g.Wait()
}
