// Package client implements the two client transports the engine
// supports: one-shot request/response calls that dial per command, and
// persistent connections that log in once and reuse the socket.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/opensis/registrar/internal/models"
	"github.com/opensis/registrar/internal/protocol"
	apperrors "github.com/opensis/registrar/pkg/errors"
)

// DefaultTimeout bounds dialing and each request/response exchange.
const DefaultTimeout = 10 * time.Second

// Call dials, sends a single request line, reads one response and closes
// the socket. It is the one-shot session shape: no state survives the
// call.
func Call(addr, line string, timeout time.Duration) (*protocol.Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConnectionLost, "failed to connect to "+addr)
	}
	defer conn.Close()

	return exchange(conn, line, timeout)
}

// Conn is a persistent connection. It caches the identity returned by
// LOGIN and keeps it across commands; only transport failure or an
// authentication error from the server discards it.
type Conn struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
	reader  *bufio.Reader
	user    *models.UserInfo
}

// Dial opens a persistent connection.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConnectionLost, "failed to connect to "+addr)
	}
	return &Conn{
		addr:    addr,
		timeout: timeout,
		conn:    conn,
		reader:  bufio.NewReader(conn),
	}, nil
}

// Login authenticates and caches the returned identity.
func (c *Conn) Login(username, password string) (*models.UserInfo, error) {
	resp, err := c.Do("LOGIN:" + username + ":" + password)
	if err != nil {
		return nil, err
	}
	if resp.Kind != protocol.KindSuccess {
		return nil, apperrors.New(apperrors.CodeInvalidCredentials, resp.ErrMessage)
	}
	var user models.UserInfo
	if err := json.Unmarshal([]byte(resp.Payload), &user); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMalformedRequest, "unreadable login payload")
	}
	c.user = &user
	return &user, nil
}

// User returns the cached identity, or nil before login.
func (c *Conn) User() *models.UserInfo {
	return c.user
}

// Do sends one request line and parses the response. A transport failure
// clears the cached identity because the server-side session died with
// the socket; a server ERROR response leaves it intact unless the server
// says the session itself is gone.
func (c *Conn) Do(line string) (*protocol.Response, error) {
	if c.conn == nil {
		return nil, apperrors.New(apperrors.CodeConnectionLost, "connection is closed")
	}
	resp, err := exchange(&bufferedConn{c.conn, c.reader}, line, c.timeout)
	if err != nil {
		c.user = nil
		c.Close()
		return nil, err
	}
	if resp.InvalidatesSession() {
		c.user = nil
	}
	return resp, nil
}

// Close releases the socket. Safe to call twice.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// bufferedConn keeps a persistent connection's read buffer attached so
// bytes already buffered are not lost between exchanges.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func exchange(conn net.Conn, line string, timeout time.Duration) (*protocol.Response, error) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConnectionLost, "failed to arm deadline")
	}
	if _, err := conn.Write([]byte(line)); err != nil {
		return nil, transportError(err, "write failed")
	}

	var reader *bufio.Reader
	if bc, ok := conn.(*bufferedConn); ok {
		reader = bc.reader
	} else {
		reader = bufio.NewReader(conn)
	}
	raw, err := reader.ReadString('\n')
	if err != nil {
		return nil, transportError(err, "read failed")
	}
	return protocol.ParseResponse(raw)
}

func transportError(err error, message string) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return apperrors.Wrap(err, apperrors.CodeTimeout, message+": deadline exceeded")
	}
	return apperrors.Wrap(err, apperrors.CodeConnectionLost, message)
}
