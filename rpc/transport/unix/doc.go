// Package unix serves and reaches cache nodes on the same machine over unix
// domain sockets. Endpoints are socket paths, optionally prefixed with unix://.
package unix
