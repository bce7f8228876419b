package rpcbench

import (
	"fmt"
	"strings"
)

const unixScheme = "unix://"

// ParseAddress splits an address into a network and a dial address.
// "unix:///run/rpcbench.sock" selects a Unix domain socket; anything else
// is a TCP host:port.
func ParseAddress(address string) (network, addr string, err error) {
	switch {
	case address == "":
		return "", "", fmt.Errorf("empty address")
	case strings.HasPrefix(address, unixScheme):
		path := strings.TrimPrefix(address, unixScheme)
		if path == "" {
			return "", "", fmt.Errorf("empty unix socket path in %q", address)
		}
		return "unix", path, nil
	case strings.HasPrefix(address, "unix:"):
		path := strings.TrimPrefix(address, "unix:")
		if path == "" {
			return "", "", fmt.Errorf("empty unix socket path in %q", address)
		}
		return "unix", path, nil
	default:
		return "tcp", address, nil
	}
}
