package server

import (
	"context"

	"github.com/ValentinKolb/dCall/lib/store"
	"github.com/ValentinKolb/dCall/rpc/common"
)

// IRPCServerAdapter translates a request message into calls on a store.
// Errors are reported inside the response, never returned.
type IRPCServerAdapter interface {
	Handle(ctx context.Context, req *common.Message, store store.IStore) (resp *common.Message)
}
