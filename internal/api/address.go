package api

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
)

// enforceLoopbackAddr returns the canonical host:port for addr. Non-loopback
// hosts are rejected unless allowPublic is set.
func enforceLoopbackAddr(addr string, allowPublic bool, logger *zap.SugaredLogger) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = defaultAddress
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("api: invalid address %q: %w", addr, err)
	}
	if host == "" {
		return "", errors.New("api: host must be specified")
	}

	if strings.EqualFold(host, "localhost") {
		return net.JoinHostPort("localhost", port), nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		if allowPublic {
			logger.Warnw("ALLOW_PUBLIC_HTTP=true, binding to non-loopback host", "addr", addr)
			return addr, nil
		}
		return "", fmt.Errorf("api: host %q is not loopback", host)
	}

	if !ip.IsLoopback() {
		if allowPublic {
			logger.Warnw("ALLOW_PUBLIC_HTTP=true, binding to non-loopback host", "addr", addr)
			return net.JoinHostPort(ip.String(), port), nil
		}
		return "", fmt.Errorf("api: host %q must be loopback", host)
	}

	return net.JoinHostPort(ip.String(), port), nil
}
