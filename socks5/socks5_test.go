package socks5

import (
	"net"
	"testing"
)

func TestServerGreetingAcceptsDomain(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	var gotHost string
	var gotPort uint16
	var gotErr error
	go func() {
		gotHost, gotPort, gotErr = ServerGreeting(server)
		close(done)
	}()

	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 2)
	if _, err := client.Read(reply); err != nil {
		t.Fatal(err)
	}
	if reply[0] != 0x05 || reply[1] != 0x00 {
		t.Fatalf("unexpected greeting reply % x", reply)
	}

	req := []byte{0x05, 0x01, 0x00, 0x03, 11}
	req = append(req, "example.com"...)
	req = append(req, 0x1f, 0x90) // port 8080
	if _, err := client.Write(req); err != nil {
		t.Fatal(err)
	}
	success := make([]byte, 10)
	if _, err := client.Read(success); err != nil {
		t.Fatal(err)
	}
	if success[1] != statusGranted {
		t.Fatalf("unexpected status %x", success[1])
	}

	<-done
	if gotErr != nil {
		t.Fatalf("ServerGreeting: %v", gotErr)
	}
	if gotHost != "example.com" || gotPort != 8080 {
		t.Errorf("got host=%q port=%d", gotHost, gotPort)
	}
}

func TestServerGreetingRejectsBadAuth(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := ServerGreeting(server)
		done <- err
	}()

	if _, err := client.Write([]byte{0x05, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 2)
	if _, err := client.Read(reply); err != nil {
		t.Fatal(err)
	}
	if reply[0] != 0x05 || reply[1] != authNoAcceptableMethod {
		t.Fatalf("unexpected reply % x", reply)
	}
	if err := <-done; err != ErrNoAcceptableMethod {
		t.Errorf("got %v, want ErrNoAcceptableMethod", err)
	}
}

func TestServerGreetingRejectsIPv6(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := ServerGreeting(server)
		done <- err
	}()

	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	greetReply := make([]byte, 2)
	if _, err := client.Read(greetReply); err != nil {
		t.Fatal(err)
	}

	req := append([]byte{0x05, 0x01, 0x00, 0x04}, make([]byte, 16)...)
	if _, err := client.Write(req); err != nil {
		t.Fatal(err)
	}
	failReply := make([]byte, 10)
	if _, err := client.Read(failReply); err != nil {
		t.Fatal(err)
	}

	if err := <-done; err != ErrNotImplemented {
		t.Errorf("got %v, want ErrNotImplemented", err)
	}
}

func TestClassify(t *testing.T) {
	if a := classify("192.168.1.1"); a.kind != addrTypeIPv4 {
		t.Errorf("expected IPv4, got kind %d", a.kind)
	}
	if a := classify("::1"); a.kind != addrTypeIPv6 {
		t.Errorf("expected IPv6, got kind %d", a.kind)
	}
	if a := classify("play.example.com"); a.kind != addrTypeDomain {
		t.Errorf("expected domain, got kind %d", a.kind)
	}
}

func TestDialConnectFullHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 3)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte{0x05, 0x00})

		head := make([]byte, 4)
		if _, err := conn.Read(head); err != nil {
			return
		}
		domLen := make([]byte, 1)
		if _, err := conn.Read(domLen); err != nil {
			return
		}
		dom := make([]byte, domLen[0])
		if _, err := conn.Read(dom); err != nil {
			return
		}
		portBuf := make([]byte, 2)
		if _, err := conn.Read(portBuf); err != nil {
			return
		}
		_, _ = conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}()

	conn, err := DialConnect(ln.Addr().String(), "target.example.com", 25565)
	if err != nil {
		t.Fatalf("DialConnect: %v", err)
	}
	defer conn.Close()
	<-serverDone
}
