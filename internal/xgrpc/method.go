package xgrpc

import (
	"fmt"
	"strings"
)

// ParseFullMethod splits a full method name into its service and method.
//
// For example, `/nd6.Inspect/Neighbours` gives `nd6.Inspect` and
// `Neighbours`.
func ParseFullMethod(fullMethod string) (string, string, error) {
	if !strings.HasPrefix(fullMethod, "/") {
		return "", "", fmt.Errorf("method name must be in format `/package.service/method`")
	}

	name := fullMethod[1:]
	pos := strings.LastIndex(name, "/")
	if pos < 0 {
		return "", "", fmt.Errorf("method name must be in format `/package.service/method`")
	}

	return name[:pos], name[pos+1:], nil
}
