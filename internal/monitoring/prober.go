// internal/monitoring/prober.go - NTRIP caster reachability probe
package monitoring

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
)

const (
	probeReadLimit = 4096
	defaultTimeout = 10 * time.Second
)

// ProbeResult is the outcome of one probe, before it is persisted.
type ProbeResult struct {
	Success  bool
	Message  string
	Duration time.Duration
}

// Prober checks whether a caster answers an NTRIP sourcetable request.
type Prober struct {
	timeout   time.Duration
	userAgent string
	dialer    *net.Dialer
}

func NewProber(timeout time.Duration, userAgent string) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if userAgent == "" {
		userAgent = "NTRIP ntripwatch/1.0"
	}
	return &Prober{
		timeout:   timeout,
		userAgent: userAgent,
		dialer:    &net.Dialer{Timeout: timeout},
	}
}

// Probe connects to the caster, requests the sourcetable and classifies the
// reply. Every failure is reported in the result; Probe never returns an
// error.
func (p *Prober) Probe(ctx context.Context, caster database.Caster) ProbeResult {
	start := time.Now()
	success, message := p.probe(ctx, caster)
	return ProbeResult{
		Success:  success,
		Message:  message,
		Duration: time.Since(start),
	}
}

func (p *Prober) probe(ctx context.Context, caster database.Caster) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	addr := net.JoinHostPort(caster.Host, strconv.Itoa(caster.Port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, err.Error()
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return false, err.Error()
	}

	if _, err := io.WriteString(conn, p.request(caster)); err != nil {
		return false, err.Error()
	}

	data, err := readUpTo(conn, probeReadLimit)
	if len(data) > 0 {
		// A partial reply is still evaluated when the read timed out or the
		// peer hung up.
		ok, msg := evaluateResponse(data)
		if ok || err == nil {
			return ok, msg
		}
	}
	if err != nil {
		return false, err.Error()
	}
	return evaluateResponse(data)
}

func (p *Prober) request(caster database.Caster) string {
	credentials := base64.StdEncoding.EncodeToString([]byte(caster.Username + ":" + caster.Password))
	return "GET / HTTP/1.0\r\n" +
		"User-Agent: " + p.userAgent + "\r\n" +
		"Authorization: Basic " + credentials + "\r\n" +
		"Connection: close\r\n" +
		"\r\n"
}

// readUpTo reads until limit bytes, EOF, an error, or a reply that already
// classifies as reachable. EOF is not an error.
func readUpTo(r io.Reader, limit int) ([]byte, error) {
	buf := make([]byte, limit)
	n := 0
	for n < limit {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf[:n], nil
			}
			return buf[:n], err
		}
		// Casters may keep the socket open after the status line.
		if ok, _ := evaluateResponse(buf[:n]); ok {
			break
		}
	}
	return buf[:n], nil
}

func evaluateResponse(data []byte) (bool, string) {
	switch {
	case bytes.Contains(data, []byte("SOURCETABLE")):
		return true, "Sourcetable received"
	case bytes.HasPrefix(data, []byte("ICY 200")):
		return true, "ICY 200 received"
	case bytes.Contains(data, []byte("200 OK")):
		return true, "200 OK received"
	case len(data) == 0:
		return false, "unexpected response"
	default:
		return false, fmt.Sprintf("unexpected response: %s", firstLine(data))
	}
}

func firstLine(data []byte) string {
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		data = data[:i]
	}
	if len(data) > 80 {
		data = data[:80]
	}
	return string(data)
}
