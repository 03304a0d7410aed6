package common

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Dragonboat helpers
// --------------------------------------------------------------------------

// Election and heartbeat timing in multiples of RTTMillisecond, as suggested
// by the raft paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to the replica config of a shard
func (c *ServerConfig) ToDragonboatConfig(shardID uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// ToNodeHostConfig creates the NodeHostConfig of this replica
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// RPC server configuration
// --------------------------------------------------------------------------

// ServerShardType selects the store backing a shard
type ServerShardType string

const (
	// ShardTypeLocalIStore is an in-process store, not shared with other nodes
	ShardTypeLocalIStore ServerShardType = "local"
	// ShardTypeRaftIStore is a store replicated over the raft cluster
	ShardTypeRaftIStore ServerShardType = "raft"
)

// ParseShardType parses a shard type, accepting "lstore" and "dstore" as aliases
func ParseShardType(s string) (ServerShardType, error) {
	switch strings.ToLower(s) {
	case "local", "lstore":
		return ShardTypeLocalIStore, nil
	case "raft", "dstore":
		return ShardTypeRaftIStore, nil
	default:
		return "", fmt.Errorf("invalid shard type %q: must be local or raft", s)
	}
}

// ServerShard describes one shard served by the rpc server
type ServerShard struct {
	ShardID uint64
	Type    ServerShardType
}

// ServerConfig holds the configuration of a cache node
type ServerConfig struct {
	Shards []ServerShard

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Timeout of a single raft round trip
	TimeoutSecond int64

	// Listen addresses
	Endpoint        string
	MetricsEndpoint string

	LogLevel string
}

// Timeout returns TimeoutSecond as a duration
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// HasRaftShard checks if the configuration contains any replicated shard
func (c *ServerConfig) HasRaftShard() bool {
	return slices.ContainsFunc(c.Shards, func(s ServerShard) bool {
		return s.Type == ShardTypeRaftIStore
	})
}

// Validate checks the configuration before any resource is created
func (c *ServerConfig) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if len(c.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}
	seen := make(map[uint64]bool, len(c.Shards))
	for _, s := range c.Shards {
		if seen[s.ShardID] {
			return fmt.Errorf("shard %d configured twice", s.ShardID)
		}
		seen[s.ShardID] = true
		if _, err := ParseShardType(string(s.Type)); err != nil {
			return err
		}
	}
	if c.HasRaftShard() {
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			return fmt.Errorf("replica %d is not a cluster member", c.ReplicaID)
		}
		if c.DataDir == "" {
			return fmt.Errorf("raft shards need a data directory")
		}
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	section := func(title string) {
		sb.WriteString("\n" + strings.ToUpper(title) + "\n")
	}
	field := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	section("RPC Server")
	field("Endpoint", c.Endpoint)
	field("Metrics Endpoint", c.MetricsEndpoint)
	field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	field("Log Level", c.LogLevel)

	section("Shards")
	for _, shard := range c.Shards {
		field(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	if c.HasRaftShard() {
		section("Raft")
		field("Node ID", strconv.FormatUint(c.ReplicaID, 10))
		field("Raft Address", c.ClusterMembers[c.ReplicaID])
		field("Round Trip Time", fmt.Sprintf("%d ms", c.RTTMillisecond))
		field("Election Timeout", fmt.Sprintf("%d ms", c.RTTMillisecond*electionRTTFactor))
		field("Heartbeat Interval", fmt.Sprintf("%d ms", c.RTTMillisecond*heartbeatRTTFactor))
		field("Snapshot Entries", strconv.FormatUint(c.SnapshotEntries, 10))
		field("Compaction Overhead", strconv.FormatUint(c.CompactionOverhead, 10))
		field("Data Directory", c.DataDir)

		ids := make([]uint64, 0, len(c.ClusterMembers))
		for id := range c.ClusterMembers {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		sb.WriteString("  Initial Members:\n")
		for _, id := range ids {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", id, c.ClusterMembers[id]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration
// --------------------------------------------------------------------------

// ClientConfig configures the rpc client transport
type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int

	// ConnectionsPerEndpoint is used by the tcp and unix transports, http
	// pools its connections itself
	ConnectionsPerEndpoint int
}

// Timeout returns TimeoutSecond as a duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nCLIENT\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %d sec\n", "Timeout", c.TimeoutSecond))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Retry Count", c.RetryCount))
	if c.ConnectionsPerEndpoint > 0 {
		sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Conns per Endpoint", c.ConnectionsPerEndpoint))
	}
	sb.WriteString("\nENDPOINTS\n")
	for i, endpoint := range c.Endpoints {
		sb.WriteString(fmt.Sprintf("  %-22d: %s\n", i, endpoint))
	}
	return sb.String()
}

// DebugEnabled reports whether the configured level is debug
func (c *ServerConfig) DebugEnabled() bool {
	lvl, err := ParseLogLevel(c.LogLevel)
	return err == nil && lvl == logger.DEBUG
}
