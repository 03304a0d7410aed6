package server

import (
	"context"
	"time"

	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/rpc/common"
)

// NewIStoreServerAdapter creates the adapter exposing store.IStore
func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(ctx context.Context, req *common.Message, s store.IStore) *common.Message {
	if s == nil {
		return common.NewErrorResponse(store.RetCInternalError, "handler: store is nil")
	}

	ttl := time.Duration(req.TTL)
	switch req.MsgType {
	case common.MsgTKVSet:
		return common.NewResponse(req.MsgType, s.Set(ctx, req.Key, req.Value))
	case common.MsgTKVSetE:
		return common.NewResponse(req.MsgType, s.SetE(ctx, req.Key, req.Value, ttl))
	case common.MsgTKVSetEIfUnset:
		ok, err := s.SetEIfUnset(ctx, req.Key, req.Value, ttl)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTKVCompareAndSwap:
		ok, err := s.CompareAndSwap(ctx, req.Key, req.Expected, req.Value, ttl)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTKVDelete:
		return common.NewResponse(req.MsgType, s.Delete(ctx, req.Key))
	case common.MsgTKVFlush:
		return common.NewResponse(req.MsgType, s.Flush(ctx))
	case common.MsgTKVGet:
		val, ok, err := s.Get(ctx, req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVHas:
		ok, err := s.Has(ctx, req.Key)
		return common.NewOkResponse(req.MsgType, ok, err)
	case common.MsgTKVInfo:
		info, err := s.GetDBInfo(ctx)
		return common.NewInfoResponse(info, err)
	default:
		return common.NewErrorResponse(store.RetCInvalidOperation, "unsupported message type: "+req.MsgType.String())
	}
}
