package monitoring

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
)

// fakeCaster accepts connections and answers with reply after reading the
// request headers. A nil reply keeps the connection open without writing.
func fakeCaster(t *testing.T, reply []byte, requests chan<- string) database.Caster {
	t.Helper()
	return lingeringCaster(t, reply, requests, 0)
}

// lingeringCaster is fakeCaster but holds the connection open for linger
// after writing reply.
func lingeringCaster(t *testing.T, reply []byte, requests chan<- string, linger time.Duration) database.Caster {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				var req strings.Builder
				for {
					line, err := r.ReadString('\n')
					req.WriteString(line)
					if err != nil || line == "\r\n" {
						break
					}
				}
				if requests != nil {
					requests <- req.String()
				}
				if reply == nil {
					time.Sleep(2 * time.Second)
					return
				}
				conn.Write(reply)
				time.Sleep(linger)
			}(conn)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return database.Caster{Name: "fake", Host: host, Port: port, Username: "user", Password: "secret"}
}

func TestProberResponses(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantSuccess bool
		wantMessage string
	}{
		{"sourcetable", "SOURCETABLE 200 OK\r\nServer: caster\r\n\r\nSTR;MOUNT;...\r\nENDSOURCETABLE\r\n", true, "Sourcetable received"},
		{"http ok", "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", true, "200 OK received"},
		{"icy", "ICY 200\r\n\r\n", true, "ICY 200 received"},
		{"icy ok", "ICY 200 OK\r\n\r\n", true, "ICY 200 received"},
		{"unauthorized", "HTTP/1.1 401 Unauthorized\r\n\r\n", false, "unexpected response: HTTP/1.1 401 Unauthorized"},
		{"empty", "", false, "unexpected response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caster := fakeCaster(t, []byte(tt.reply), nil)
			result := NewProber(time.Second, "").Probe(context.Background(), caster)
			if result.Success != tt.wantSuccess {
				t.Errorf("Success: got %v, want %v", result.Success, tt.wantSuccess)
			}
			if result.Message != tt.wantMessage {
				t.Errorf("Message: got %q, want %q", result.Message, tt.wantMessage)
			}
		})
	}
}

func TestProberReturnsWithoutWaitingForClose(t *testing.T) {
	replies := []string{
		"ICY 200 OK\r\n\r\n",
		"HTTP/1.1 200 OK\r\n\r\n",
		"SOURCETABLE 200 OK\r\n",
	}
	for _, reply := range replies {
		caster := lingeringCaster(t, []byte(reply), nil, 3*time.Second)

		start := time.Now()
		result := NewProber(2*time.Second, "").Probe(context.Background(), caster)
		elapsed := time.Since(start)
		if !result.Success {
			t.Errorf("%q: got failure %q", reply, result.Message)
		}
		if elapsed > 500*time.Millisecond {
			t.Errorf("%q: took %v, expected to return once the status was read", reply, elapsed)
		}
		if result.Duration > 500*time.Millisecond {
			t.Errorf("%q: recorded duration %v", reply, result.Duration)
		}
	}
}

func TestProberSendsRequest(t *testing.T) {
	requests := make(chan string, 1)
	caster := fakeCaster(t, []byte("SOURCETABLE 200 OK\r\n"), requests)

	NewProber(time.Second, "NTRIP test/1.0").Probe(context.Background(), caster)

	req := <-requests
	wantAuth := "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte("user:secret"))
	for _, want := range []string{"GET / HTTP/1.0\r\n", "User-Agent: NTRIP test/1.0\r\n", wantAuth + "\r\n"} {
		if !strings.Contains(req, want) {
			t.Errorf("request missing %q:\n%s", want, req)
		}
	}
}

func TestProberTimeout(t *testing.T) {
	caster := fakeCaster(t, nil, nil)

	start := time.Now()
	result := NewProber(200*time.Millisecond, "").Probe(context.Background(), caster)
	if result.Success {
		t.Fatal("expected failure on silent caster")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe took %v, timeout not enforced", elapsed)
	}
	if result.Duration <= 0 {
		t.Error("expected a measured duration")
	}
}

func TestProberConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	result := NewProber(time.Second, "").Probe(context.Background(), database.Caster{Host: "127.0.0.1", Port: addr.Port})
	if result.Success || result.Message == "" {
		t.Errorf("got %+v, want failure with message", result)
	}
}
