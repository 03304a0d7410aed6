// Package http carries rpc messages over HTTP/1.1.
//
// Every request is a POST to /{shardID} whose body is the serialized
// message; the response body is the serialized reply. Non-200 statuses are
// transport failures (bad shard id, unreadable body), store errors travel
// inside the reply.
//
// The client spreads requests round-robin over its endpoints and retries a
// failed send on the next one. It is safe for concurrent use.
package http
