package connectivity

import (
	"errors"
	"net"
	"net/http"
)

// Transport is an http.RoundTripper that reports reachability to a Gate. Any
// HTTP response, whatever its status, means the network is up; a dial or DNS
// failure means it is down. Cancelled requests report nothing.
type Transport struct {
	Base http.RoundTripper
	Gate *Gate
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	res, err := base.RoundTrip(req)
	if t.Gate == nil {
		return res, err
	}
	if err != nil {
		if req.Context().Err() == nil && isUnreachable(err) {
			t.Gate.Offline()
		}
		return res, err
	}
	t.Gate.Online()
	return res, nil
}

func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write"
	}
	return false
}
