// Package registry owns the dispatch pools and the routing table that maps a call
// name to a queue and a timeout.
//
// Resolution order, applied to queue and timeout independently:
//
//	per-call override -> system default -> global default ("default" queue, table timeout)
//
// The table is swapped atomically on Reload, an envelope keeps the route it was
// resolved with. Unknown queue references are a startup error, never a call-time one.
package registry
