package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCall/lib/db"
	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/serializer"
	"github.com/ValentinKolb/dCall/rpc/transport"
)

// NewRPCStore connects the transport and returns a store.IStore that
// forwards every operation to the given shard of a cache node
func NewRPCStore(
	shardID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &RPCStore{rpcClientAdapter{
		shardID:    shardID,
		config:     config,
		transport:  transport,
		serializer: serializer,
	}}, nil
}

// RPCStore is a store.IStore served by a remote cache node
type RPCStore struct {
	rpcClientAdapter
}

var _ store.IStore = (*RPCStore)(nil)

// Close closes the transport
func (i *RPCStore) Close() error {
	return i.transport.Close()
}

func (i *RPCStore) String() string {
	return fmt.Sprintf("rpc(shard=%d, endpoints=%v)", i.shardID, i.config.Endpoints)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *RPCStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := i.invoke(ctx, common.NewSetRequest(key, value))
	return err
}

func (i *RPCStore) SetE(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := i.invoke(ctx, common.NewSetERequest(key, value, ttl))
	return err
}

func (i *RPCStore) SetEIfUnset(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return i.ok(ctx, common.NewSetEIfUnsetRequest(key, value, ttl))
}

func (i *RPCStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	return i.ok(ctx, common.NewCompareAndSwapRequest(key, expected, value, ttl))
}

func (i *RPCStore) Delete(ctx context.Context, key string) error {
	_, err := i.invoke(ctx, common.NewDeleteRequest(key))
	return err
}

func (i *RPCStore) Flush(ctx context.Context) error {
	_, err := i.invoke(ctx, common.NewFlushRequest())
	return err
}

func (i *RPCStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := i.invoke(ctx, common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *RPCStore) Has(ctx context.Context, key string) (bool, error) {
	return i.ok(ctx, common.NewHasRequest(key))
}

func (i *RPCStore) GetDBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	var info db.DatabaseInfo
	resp, err := i.invoke(ctx, common.NewInfoRequest())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(resp.Meta, &info); err != nil {
		return info, store.Errorf(store.RetCInternalError, "decode info: %v", err)
	}
	return info, nil
}

func (i *RPCStore) ok(ctx context.Context, req *common.Message) (bool, error) {
	resp, err := i.invoke(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
