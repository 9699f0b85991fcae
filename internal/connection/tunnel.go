package connection

import (
	"context"
	"io"
	"net"

	"github.com/quic-go/quic-go"
)

// Application error codes sent when the server closes a connection.
const (
	ErrCodeNormal      uint64 = 0
	ErrCodeProtocol    uint64 = 0xfffffff0
	ErrCodeAuthFailed  uint64 = 0xfffffff1
	ErrCodeAuthTimeout uint64 = 0xfffffff2
	ErrCodeBadCommand  uint64 = 0xfffffff3
)

// Tunnel is the multiplexed transport a Connection runs on.
type Tunnel interface {
	// AcceptUniStream waits for the next client-initiated unidirectional stream.
	AcceptUniStream(ctx context.Context) (io.Reader, error)

	// AcceptStream waits for the next client-initiated bidirectional stream.
	AcceptStream(ctx context.Context) (io.Closer, error)

	// OpenUniStream opens a server-initiated unidirectional stream.
	OpenUniStream(ctx context.Context) (io.WriteCloser, error)

	// ReceiveDatagram waits for the next unreliable datagram.
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	// SendDatagram sends an unreliable datagram.
	SendDatagram(b []byte) error

	// ExportKeyingMaterial derives keying material from the TLS session.
	ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error)

	RemoteAddr() net.Addr
	CloseWithError(code uint64, msg string) error
}

// QUICTunnel adapts a quic-go connection to Tunnel.
type QUICTunnel struct {
	conn quic.Connection
}

// NewQUICTunnel wraps conn.
func NewQUICTunnel(conn quic.Connection) *QUICTunnel {
	return &QUICTunnel{conn: conn}
}

// AcceptUniStream implements Tunnel.
func (t *QUICTunnel) AcceptUniStream(ctx context.Context) (io.Reader, error) {
	return t.conn.AcceptUniStream(ctx)
}

// AcceptStream implements Tunnel. Closing the returned stream resets both
// directions.
func (t *QUICTunnel) AcceptStream(ctx context.Context) (io.Closer, error) {
	stream, err := t.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return rejectedStream{stream: stream}, nil
}

// OpenUniStream implements Tunnel.
func (t *QUICTunnel) OpenUniStream(ctx context.Context) (io.WriteCloser, error) {
	return t.conn.OpenUniStreamSync(ctx)
}

// ReceiveDatagram implements Tunnel.
func (t *QUICTunnel) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return t.conn.ReceiveDatagram(ctx)
}

// SendDatagram implements Tunnel.
func (t *QUICTunnel) SendDatagram(b []byte) error {
	return t.conn.SendDatagram(b)
}

// ExportKeyingMaterial implements Tunnel.
func (t *QUICTunnel) ExportKeyingMaterial(label string, context []byte, length int) ([]byte, error) {
	state := t.conn.ConnectionState().TLS
	return state.ExportKeyingMaterial(label, context, length)
}

// RemoteAddr implements Tunnel.
func (t *QUICTunnel) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// CloseWithError implements Tunnel.
func (t *QUICTunnel) CloseWithError(code uint64, msg string) error {
	return t.conn.CloseWithError(quic.ApplicationErrorCode(code), msg)
}

type rejectedStream struct {
	stream quic.Stream
}

func (s rejectedStream) Close() error {
	s.stream.CancelRead(quic.StreamErrorCode(ErrCodeBadCommand))
	s.stream.CancelWrite(quic.StreamErrorCode(ErrCodeBadCommand))
	return nil
}
