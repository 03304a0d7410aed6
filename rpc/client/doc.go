// Package client provides a store.IStore backed by a remote cache node.
//
// NewRPCStore connects a transport and returns an RPCStore bound to one
// shard. Every operation is one request; the context bounds the whole
// exchange including retries done by the transport. Failures to reach any
// node are reported as store.RetCUnavailable, errors raised by the remote
// store keep their code.
//
// Usage Example:
//
//	s, err := client.NewRPCStore(
//	  1,
//	  common.ClientConfig{Endpoints: []string{"localhost:8080"}, TimeoutSecond: 5, RetryCount: 3},
//	  http.NewHttpClientTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//	  return err
//	}
//	defer s.Close()
//
//	c := cache.NewVersioned(s, cache.String())
//	_ = c.Put(ctx, "greeting", "hello")
//
// An RPCStore is safe for concurrent use.
package client
