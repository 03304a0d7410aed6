// Package metrics exports dispatch, pool, cache and rpc statistics to prometheus.
package metrics
