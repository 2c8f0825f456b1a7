package client

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensis/registrar/internal/protocol"
	apperrors "github.com/opensis/registrar/pkg/errors"
)

// fakeServer answers each request line with the next canned response. An
// empty response closes the connection instead, simulating a server-side
// drop mid-session.
func fakeServer(t *testing.T, responses ...string) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for _, resp := range responses {
					if _, err := reader.ReadString('\n'); err != nil {
						return
					}
					if resp == "" {
						return
					}
					conn.Write([]byte(resp + "\n"))
				}
			}(conn)
		}
	}()
	return listener.Addr().String()
}

const loginPayload = `SUCCESS:{"id":"stu-1","username":"alice","full_name":"Alice A","role":"STUDENT"}`

func TestCallOneShot(t *testing.T) {
	addr := fakeServer(t, "SUCCESS:PONG")

	resp, err := Call(addr, "PING", time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindSuccess, resp.Kind)
	assert.Equal(t, "PONG", resp.Payload)
}

func TestCallConnectionRefused(t *testing.T) {
	_, err := Call("127.0.0.1:1", "PING", 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConnectionLost))
}

func TestPersistentLoginCachesIdentity(t *testing.T) {
	addr := fakeServer(t, loginPayload, "SUCCESS:PONG")

	conn, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	assert.Nil(t, conn.User())

	user, err := conn.Login("alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", user.ID)
	require.NotNil(t, conn.User())
	assert.Equal(t, "alice", conn.User().Username)

	resp, err := conn.Do("PING")
	require.NoError(t, err)
	assert.Equal(t, "PONG", resp.Payload)
	assert.NotNil(t, conn.User(), "identity survives further commands")
}

func TestBusinessErrorKeepsIdentity(t *testing.T) {
	addr := fakeServer(t, loginPayload, "ERROR:section CS101 is full (30/30)")

	conn, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Login("alice", "s3cret")
	require.NoError(t, err)

	resp, err := conn.Do("REGISTER:stu-1:sec-1")
	require.NoError(t, err)
	assert.Equal(t, protocol.KindError, resp.Kind)

	// A denied registration is not a session loss.
	assert.NotNil(t, conn.User())
}

func TestAuthenticationErrorClearsIdentity(t *testing.T) {
	addr := fakeServer(t, loginPayload, "ERROR:NOT_AUTHENTICATED")

	conn, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Login("alice", "s3cret")
	require.NoError(t, err)

	resp, err := conn.Do("REGISTER:stu-1:sec-1")
	require.NoError(t, err)
	assert.True(t, resp.InvalidatesSession())
	assert.Nil(t, conn.User())
}

func TestTransportFailureClearsIdentity(t *testing.T) {
	addr := fakeServer(t, loginPayload, "")

	conn, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Login("alice", "s3cret")
	require.NoError(t, err)

	// The server drops the socket; the cached identity dies with it.
	_, err = conn.Do("PING")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConnectionLost))
	assert.Nil(t, conn.User())

	// Further use reports the closed connection rather than panicking.
	_, err = conn.Do("PING")
	assert.True(t, apperrors.Is(err, apperrors.CodeConnectionLost))
}

func TestDoTimeout(t *testing.T) {
	// A server that accepts but never answers.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			// Swallow input, send nothing.
			reader := bufio.NewReader(conn)
			for {
				if _, err := reader.ReadString('\n'); err != nil {
					return
				}
			}
		}
	}()

	conn, err := Dial(listener.Addr().String(), 100*time.Millisecond)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Do("PING")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeTimeout))
}

func TestLoginFailure(t *testing.T) {
	addr := fakeServer(t, "ERROR:invalid username or password")

	conn, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Login("alice", "wrong")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidCredentials))
	assert.True(t, strings.Contains(err.Error(), "invalid username or password"))
	assert.Nil(t, conn.User())
}
