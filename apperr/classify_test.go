package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"server unreachable", errors.New("Can't reach database server at `localhost:3306`"), KindConnectivity},
		{"connection reset", errors.New("read tcp: Connection Reset by peer"), KindConnectivity},
		{"connection refused", errors.New("dial tcp 127.0.0.1:443: connect: connection refused"), KindConnectivity},
		{"forcibly closed", errors.New("An existing connection was forcibly closed by the remote host"), KindConnectivity},
		{"connect timeout", errors.New("CONNECT TIMEOUT"), KindConnectivity},
		{"operation timed out", errors.New("operation timed out"), KindConnectivity},
		{"deadline", fmt.Errorf("pull: %w", context.DeadlineExceeded), KindConnectivity},
		{"syscall refused", fmt.Errorf("push: %w", syscall.ECONNREFUSED), KindConnectivity},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("boom")}, KindConnectivity},
		{"mysql invalid conn", fmt.Errorf("query: %w", mysql.ErrInvalidConn), KindConnectivity},
		{"schema failure", errors.New("Table 'tenant_a.local_records' doesn't exist"), KindApplication},
		{"validation", errors.New("payload rejected: missing entity id"), KindApplication},
		{"typed auth", Authentication("login", ReasonWrongPassword), KindAuthentication},
		{"typed connectivity wins over message", Application("push", errors.New("connection refused")), KindApplication},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestErrorIsMatchesKindAndReason(t *testing.T) {
	err := fmt.Errorf("offline login: %w", Authentication("login", ReasonExpired))

	assert.True(t, errors.Is(err, &Error{Kind: KindAuthentication}))
	assert.True(t, errors.Is(err, &Error{Kind: KindAuthentication, Reason: ReasonExpired}))
	assert.False(t, errors.Is(err, &Error{Kind: KindAuthentication, Reason: ReasonWrongPassword}))
	assert.False(t, errors.Is(err, &Error{Kind: KindAuthorization}))
	assert.Equal(t, ReasonExpired, ReasonOf(err))
}
