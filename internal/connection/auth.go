package connection

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fbzhong/tuic/internal/logging"
	"github.com/fbzhong/tuic/internal/protocol"
)

var (
	// ErrAuthFailed is returned for an unknown user or a bad token.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrAuthTimeout is returned by Serve when the client did not
	// authenticate within the configured timeout.
	ErrAuthTimeout = errors.New("authentication timed out")
)

// authenticate checks the token against the TLS exporter keyed by the
// user's id and password.
func (c *Connection) authenticate(cmd *protocol.Authenticate) error {
	id := uuid.UUID(cmd.UUID)

	password, ok := c.cfg.Users[id]
	if !ok {
		return c.failAuth(id, ErrAuthFailed)
	}

	expected, err := c.tunnel.ExportKeyingMaterial(string(cmd.UUID[:]), []byte(password), protocol.TokenSize)
	if err != nil {
		c.logger.Warn("exporting keying material", logging.KeyError, err)
		return c.failAuth(id, ErrAuthFailed)
	}

	if subtle.ConstantTimeCompare(expected, cmd.Token[:]) != 1 {
		return c.failAuth(id, ErrAuthFailed)
	}

	c.authOnce.Do(func() {
		user := id.String()
		c.user.Store(&user)
		close(c.authed)
		c.logger.Info("authenticated", logging.KeyUser, user)
	})

	return nil
}

func (c *Connection) failAuth(id uuid.UUID, err error) error {
	c.metrics.RecordAuthFailure()
	c.logger.Warn("authentication failed", logging.KeyUser, id.String())
	c.closeWithError(ErrCodeAuthFailed, err.Error())
	return err
}

// waitAuth blocks until the connection is authenticated.
func (c *Connection) waitAuth(ctx context.Context) error {
	select {
	case <-c.authed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchAuth closes the connection when it is not authenticated in time.
func (c *Connection) watchAuth(ctx context.Context) error {
	if c.cfg.AuthTimeout <= 0 {
		return nil
	}

	timer := time.NewTimer(c.cfg.AuthTimeout)
	defer timer.Stop()

	select {
	case <-c.authed:
		return nil
	case <-ctx.Done():
		return nil
	case <-timer.C:
		c.authExpired.Store(true)
		c.metrics.RecordAuthFailure()
		c.logger.Warn("authentication timeout", logging.KeyDuration, c.cfg.AuthTimeout)
		c.closeWithError(ErrCodeAuthTimeout, ErrAuthTimeout.Error())
		return ErrAuthTimeout
	}
}
