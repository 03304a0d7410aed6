package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/rpc/common"
	"github.com/ValentinKolb/dCall/rpc/serializer"
	"github.com/ValentinKolb/dCall/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("rpc")

// rpcClientAdapter holds everything needed to send requests for one shard
type rpcClientAdapter struct {
	shardID    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends req and decodes the response. Transport failures become
// RetCUnavailable errors, errors reported by the server keep their code, and
// a response of the wrong type is an internal error.
func (a *rpcClientAdapter) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, store.Errorf(store.RetCInternalError, "serialize %s request: %v", req.MsgType, err)
	}

	respBytes, err := a.transport.Send(ctx, a.shardID, reqBytes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		log.Debugf("shard %d: %s failed: %v", a.shardID, req.MsgType, err)
		return nil, store.NewError(store.RetCUnavailable, err.Error())
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, store.Errorf(store.RetCInternalError, "deserialize %s response: %v", req.MsgType, err)
	}
	if err := resp.Failure(); err != nil {
		return nil, err
	}
	if resp.MsgType != req.MsgType {
		return nil, store.NewError(store.RetCInternalError,
			fmt.Sprintf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType))
	}
	return resp, nil
}
