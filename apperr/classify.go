package apperr

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// connectivitySignatures is the fallback for opaque errors that only carry a
// message. Matching is case-insensitive.
var connectivitySignatures = []string{
	"can't reach database server",
	"server unreachable",
	"connection reset",
	"connection refused",
	"forcibly closed",
	"connect timeout",
	"connection timed out",
	"operation timed out",
	"i/o timeout",
	"no such host",
	"network is unreachable",
	"broken pipe",
}

// IsConnectivityMessage reports whether msg matches a known connectivity
// signature.
func IsConnectivityMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, sig := range connectivitySignatures {
		if strings.Contains(m, sig) {
			return true
		}
	}
	return false
}

// Classify maps err to a Kind. Structured kinds win: taxonomy errors, then
// network/syscall/driver errors, and only then the message signatures.
// Anything unrecognised is an application error.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if k := KindOf(err); k != KindUnknown {
		return k
	}
	if isStructuredConnectivity(err) {
		return KindConnectivity
	}
	if IsConnectivityMessage(err.Error()) {
		return KindConnectivity
	}
	return KindApplication
}

func IsConnectivity(err error) bool {
	return err != nil && Classify(err) == KindConnectivity
}

func isStructuredConnectivity(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
		syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
