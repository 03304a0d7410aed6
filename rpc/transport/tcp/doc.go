// Package tcp serves and reaches cache nodes over plain tcp connections,
// using the framed protocol of the base package.
package tcp
