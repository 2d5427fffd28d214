package health

import (
	"context"
	"net"
	"time"
)

// TCPChecker reports healthy when a connection to Address can be opened
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker dials address with the given timeout
func NewTCPChecker(address string, timeout time.Duration) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: timeout}
}

// Check opens and immediately closes a connection
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	d := net.Dialer{Timeout: t.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return finish(start, false, "cannot reach %s: %v", t.Address, err)
	}
	_ = conn.Close()
	return finish(start, true, "%s accepts connections", t.Address)
}

// Target returns the dialed address
func (t *TCPChecker) Target() string { return t.Address }
