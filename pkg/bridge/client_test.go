package bridge

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// jsonrpc2's header stream requires a full net.Conn; the stdio adapter has
// no real peer, so address and deadline calls must be inert rather than
// panic.
func TestStdioPipeIsAConn(t *testing.T) {
	var buf bytes.Buffer
	pipe := &stdioPipe{
		in:  nopWriteCloser{&buf},
		out: io.NopCloser(bytes.NewReader([]byte("hello"))),
	}
	var conn net.Conn = pipe

	require.Equal(t, "stdio", conn.LocalAddr().Network())
	require.Equal(t, "stdio", conn.RemoteAddr().String())
	require.NoError(t, conn.SetDeadline(time.Now()))
	require.NoError(t, conn.SetReadDeadline(time.Time{}))
	require.NoError(t, conn.SetWriteDeadline(time.Time{}))

	n, err := conn.Write([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "ping", buf.String())

	got := make([]byte, 5)
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	require.NoError(t, conn.Close())
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
