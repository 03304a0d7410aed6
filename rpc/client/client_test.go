package client

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/db/engines/maple"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/lib/store/lstore"
	"github.com/ValentinKolb/dCall/lib/store/storetest"
	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/serializer"
	"github.com/ValentinKolb/dCall/rpc/server"
	"github.com/ValentinKolb/dCall/rpc/transport"
	"github.com/ValentinKolb/dCall/rpc/transport/base"
	rpchttp "github.com/ValentinKolb/dCall/rpc/transport/http"
	"github.com/ValentinKolb/dCall/rpc/transport/tcp"
	"github.com/ValentinKolb/dCall/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testShard = 7

// startNode serves a local store on an httptest server and returns its url
func startNode(t *testing.T, s serializer.IRPCSerializer) string {
	t.Helper()
	tr := rpchttp.NewHttpServerTransport()
	srv := server.NewRPCServer(common.ServerConfig{LogLevel: "info"}, tr, s)
	srv.AddShard(testShard, lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }))
	tr.RegisterHandler(srv.Handle)

	ts := httptest.NewServer(tr.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts.URL
}

// startFramedNode serves a local store over a tcp or unix transport and
// returns the endpoint it listens on
func startFramedNode(t *testing.T, tr *base.ServerTransport, endpoint string, s serializer.IRPCSerializer) string {
	t.Helper()
	srv := server.NewRPCServer(common.ServerConfig{LogLevel: "info", Endpoint: endpoint}, tr, s)
	srv.AddShard(testShard, lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }))
	tr.RegisterHandler(srv.Handle)

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Listen(common.ServerConfig{Endpoint: endpoint}) }()
	require.Eventually(t, func() bool { return tr.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, tr.Shutdown(ctx))
		assert.NoError(t, <-errCh)
		_ = srv.Close()
	})
	return tr.Addr().String()
}

func connect(t *testing.T, endpoint string, shard uint64, s serializer.IRPCSerializer) *RPCStore {
	t.Helper()
	return connectWith(t, rpchttp.NewHttpClientTransport(), endpoint, shard, s)
}

func connectWith(t *testing.T, tr transport.IRPCClientTransport, endpoint string, shard uint64, s serializer.IRPCSerializer) *RPCStore {
	t.Helper()
	st, err := NewRPCStore(shard, common.ClientConfig{
		Endpoints:              []string{endpoint},
		TimeoutSecond:          5,
		RetryCount:             2,
		ConnectionsPerEndpoint: 2,
	}, tr, s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRPCStore(t *testing.T) {
	for _, name := range []string{"binary", "json", "gob"} {
		s, err := serializer.ByName(name)
		require.NoError(t, err)
		endpoint := startNode(t, s)

		storetest.RunIStoreTests(t, name, func(t *testing.T) store.IStore {
			return connect(t, endpoint, testShard, s)
		})
	}
}

func TestRPCStoreOverTCP(t *testing.T) {
	s := serializer.NewBinarySerializer()
	endpoint := startFramedNode(t, tcp.NewTCPServerTransport(), "127.0.0.1:0", s)

	storetest.RunIStoreTests(t, "tcp", func(t *testing.T) store.IStore {
		return connectWith(t, tcp.NewTCPClientTransport(), endpoint, testShard, s)
	})
}

func TestRPCStoreOverUnixSocket(t *testing.T) {
	s := serializer.NewBinarySerializer()
	endpoint := startFramedNode(t, unix.NewUnixServerTransport(), filepath.Join(t.TempDir(), "node.sock"), s)

	storetest.RunIStoreTests(t, "unix", func(t *testing.T) store.IStore {
		return connectWith(t, unix.NewUnixClientTransport(), endpoint, testShard, s)
	})
}

// Many goroutines share two connections, every response reaches its request
func TestFramedTransportMultiplexes(t *testing.T) {
	s := serializer.NewBinarySerializer()
	endpoint := startFramedNode(t, tcp.NewTCPServerTransport(), "127.0.0.1:0", s)
	st := connectWith(t, tcp.NewTCPClientTransport(), "tcp://"+endpoint, testShard, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			assert.NoError(t, st.Set(ctx, key, []byte(key)))
			v, ok, err := st.Get(ctx, key)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, key, string(v))
		}()
	}
	wg.Wait()
}

func TestFramedTransportUnknownShard(t *testing.T) {
	s := serializer.NewBinarySerializer()
	endpoint := startFramedNode(t, unix.NewUnixServerTransport(), filepath.Join(t.TempDir(), "node.sock"), s)
	st := connectWith(t, unix.NewUnixClientTransport(), endpoint, 99, s)

	_, _, err := st.Get(context.Background(), "k")
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCInvalidOperation})
}

func TestFramedTransportUnreachable(t *testing.T) {
	_, err := NewRPCStore(testShard, common.ClientConfig{
		Endpoints:     []string{filepath.Join(t.TempDir(), "missing.sock")},
		TimeoutSecond: 1,
	}, unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	assert.Error(t, err)
}

func TestUnknownShard(t *testing.T) {
	s := serializer.NewBinarySerializer()
	st := connect(t, startNode(t, s), 99, s)

	_, _, err := st.Get(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCInvalidOperation})
}

func TestUnreachableNode(t *testing.T) {
	s := serializer.NewBinarySerializer()
	st := connect(t, "http://127.0.0.1:1", testShard, s)

	err := st.Set(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, &store.Error{Code: store.RetCUnavailable})
}

func TestCancelledRequest(t *testing.T) {
	s := serializer.NewBinarySerializer()
	st := connect(t, startNode(t, s), testShard, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := st.Set(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTTLTravels(t *testing.T) {
	s := serializer.NewBinarySerializer()
	st := connect(t, startNode(t, s), testShard, s)
	ctx := context.Background()

	ok, err := st.SetEIfUnset(ctx, "short", []byte("v"), 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		has, err := st.Has(ctx, "short")
		return err == nil && !has
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNoEndpoints(t *testing.T) {
	_, err := NewRPCStore(1, common.ClientConfig{}, rpchttp.NewHttpClientTransport(), serializer.NewBinarySerializer())
	assert.Error(t, err)
}
