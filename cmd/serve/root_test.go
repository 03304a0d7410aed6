package serve

import (
	"testing"

	"github.com/ValentinKolb/dCall/lib/db/util"
	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShards(t *testing.T) {
	shards, err := parseShards("1=local, 100=raft,7=dstore")
	require.NoError(t, err)
	assert.Equal(t, []common.ServerShard{
		{ShardID: 1, Type: common.ShardTypeLocalIStore},
		{ShardID: 100, Type: common.ShardTypeRaftIStore},
		{ShardID: 7, Type: common.ShardTypeRaftIStore},
	}, shards)

	for _, invalid := range []string{"1", "x=local", "1=lockmgr", "1=local=raft"} {
		_, err := parseShards(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestParseMembers(t *testing.T) {
	members, err := parseMembers("node-1=localhost:63001, node-2=localhost:63002")
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Equal(t, "localhost:63001", members[uint64(util.HashString("node-1", 0))])
	assert.Equal(t, "localhost:63002", members[uint64(util.HashString("node-2", 0))])

	_, err = parseMembers("node-1")
	assert.Error(t, err)
}
