// Package interceptors holds gRPC server interceptors and request helpers shared by the audit trail.
package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// unknownIP is recorded when neither proxy headers nor a peer address are available.
const unknownIP = "unknown"

// ClientIP returns the client IP for ctx. A proxy-supplied x-forwarded-for (first hop) wins over
// x-real-ip, which wins over the transport peer. It matches audit.IPExtractor.
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ip := firstHop(md.Get("x-forwarded-for")); ip != "" {
			return ip
		}
		if ip := firstHop(md.Get("x-real-ip")); ip != "" {
			return ip
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return unknownIP
}

func firstHop(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	first, _, _ := strings.Cut(vals[0], ",")
	return strings.TrimSpace(first)
}
