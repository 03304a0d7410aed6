// Package server turns a node into a shared store for version-checked caches.
//
// A Server maps shard ids to stores. Each shard is either local (a maple
// database inside this process, fine for a single node or tests) or raft (a
// dstore replica; every node of the cluster must configure the same raft
// shards). Requests are decoded with the configured serializer, executed by
// the IStore adapter and answered with a response carrying the store result
// or the store error code.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 1, Type: common.ShardTypeLocalIStore},
//	    {ShardID: 100, Type: common.ShardTypeRaftIStore},
//	  },
//	  Endpoint:       "0.0.0.0:8080",
//	  TimeoutSecond:  5,
//	  LogLevel:       "info",
//	  RTTMillisecond: 100,
//	  DataDir:        "/var/lib/dcall",
//	  ReplicaID:      1,
//	  ClusterMembers: map[uint64]string{1: "node1:63001", 2: "node2:63001", 3: "node3:63001"},
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatalf("server error: %v", err)
//	}
//
// Handle is safe for concurrent use; Serve must be called once.
package server
