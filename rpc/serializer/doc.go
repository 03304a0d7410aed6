// Package serializer encodes the rpc messages exchanged between cache nodes and
// their clients. Both sides must use the same format; ByName maps the
// serializer flag of the CLI to an implementation.
//
// Formats:
//
//   - binary (default): two header bytes (type, field flags) followed only by
//     the fields that are set. A version marker swap of the cache, the most
//     frequent write, fits into a few dozen bytes. Deserialize reuses the byte
//     slices of the target message where their capacity allows it.
//
//   - json: readable on the wire, message types are written by name. Useful
//     when debugging a node with curl.
//
//   - gob: the standard library gob codec. Slowest and largest of the three,
//     kept for compatibility with older nodes.
//
// All implementations are stateless values and safe for concurrent use.
//
// Usage:
//
//	s, err := serializer.ByName("binary")
//	data, err := s.Serialize(*common.NewCompareAndSwapRequest(marker, []byte("3"), []byte("4"), ttl))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(received, &resp)
package serializer
