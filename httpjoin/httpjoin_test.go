package httpjoin

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/exserverd/mcmitm/joinhash"
	"github.com/exserverd/mcmitm/netio"
)

var errTimeout = errors.New("httpjoin_test: timed out waiting for read")

func TestInterceptPatchesJoinRequest(t *testing.T) {
	clientConn, clientSide := net.Pipe()
	serverSide, serverConn := net.Pipe()
	defer clientConn.Close()
	defer clientSide.Close()
	defer serverSide.Close()
	defer serverConn.Close()

	slot := joinhash.NewSlot()
	slot.Set("-deadbeef")

	errCh := make(chan error, 1)
	go func() {
		errCh <- Intercept(context.Background(), clientSide, serverSide, slot)
	}()

	body := `{"accessToken":"tok","selectedProfile":"prof","serverId":"original"}`
	request := "POST /exUUIDAuth.php?action=join HTTP/1.1\r\n" +
		"Host: sessionserver.example\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"\r\n" + body

	newBody := `{"accessToken":"tok","selectedProfile":"prof","serverId":"-deadbeef"}`
	wantRequest := "POST /exUUIDAuth.php?action=join HTTP/1.1\r\n" +
		"Host: sessionserver.example\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: " + strconv.Itoa(len(newBody)) + "\r\n" +
		"\r\n" + newBody

	writeErrCh := make(chan error, 1)
	go func() {
		_, err := clientConn.Write([]byte(request))
		writeErrCh <- err
	}()

	got, err := readExactTimeout(serverConn, len(wantRequest), 2*time.Second)
	if err != nil {
		t.Fatalf("read patched request: %v", err)
	}
	if err := <-writeErrCh; err != nil {
		t.Fatalf("write request: %v", err)
	}
	if string(got) != wantRequest {
		t.Errorf("got patched request:\n%q\nwant:\n%q", got, wantRequest)
	}

	clientConn.Close()
	serverConn.Close()

	select {
	case err := <-errCh:
		if err != nil && !netio.IsClosed(err) {
			t.Fatalf("Intercept returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Intercept did not return after connections closed")
	}
}

func TestInterceptPassesThroughNonJoinRequest(t *testing.T) {
	clientConn, clientSide := net.Pipe()
	serverSide, serverConn := net.Pipe()
	defer clientConn.Close()
	defer clientSide.Close()
	defer serverSide.Close()
	defer serverConn.Close()

	slot := joinhash.NewSlot()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Intercept(context.Background(), clientSide, serverSide, slot)
	}()

	request := "GET /hasJoined?username=x HTTP/1.1\r\nHost: sessionserver.example\r\n\r\n"
	writeErrCh := make(chan error, 1)
	go func() {
		_, err := clientConn.Write([]byte(request))
		writeErrCh <- err
	}()

	got, err := readExactTimeout(serverConn, len(request), 2*time.Second)
	if err != nil {
		t.Fatalf("read forwarded request: %v", err)
	}
	if err := <-writeErrCh; err != nil {
		t.Fatalf("write request: %v", err)
	}
	if string(got) != request {
		t.Errorf("expected byte-exact passthrough, got %q want %q", got, request)
	}

	clientConn.Close()
	serverConn.Close()

	select {
	case err := <-errCh:
		if err != nil && !netio.IsClosed(err) {
			t.Fatalf("Intercept returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Intercept did not return after connections closed")
	}
}

// readExactTimeout reads exactly n bytes from conn or fails once timeout
// elapses, since net.Pipe has no internal buffering and a short read would
// otherwise block forever on a slow or partial writer.
func readExactTimeout(conn net.Conn, n int, timeout time.Duration) ([]byte, error) {
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, n)
		_, err := io.ReadFull(conn, buf)
		done <- result{buf, err}
	}()
	select {
	case r := <-done:
		return r.buf, r.err
	case <-time.After(timeout):
		return nil, errTimeout
	}
}
