package forwardproxy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/always-cache/forward-proxy/pkg/message"
	"github.com/always-cache/forward-proxy/pkg/target"
)

const (
	userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"
	// declared bodies are followed by a line terminator that is captured along with them
	trailerSize = 2
)

// DialFunc opens a transport connection, like net.Dial.
type DialFunc func(network, address string) (net.Conn, error)

// forwarder fetches responses from origin servers on behalf of clients.
type forwarder struct {
	dial            DialFunc
	maxRequestSize  int
	maxResponseSize int
	maxHeaderSize   int
}

// originRequest builds the request sent to the origin.
// The client's header lines follow the proxy's own fields unchanged.
func originRequest(t target.Target, h clientHeader) *message.Request {
	req := &message.Request{
		Method:      "GET",
		URI:         t.Path,
		Proto:       "HTTP/1.0",
		Passthrough: h.Raw,
	}
	if !h.HasHost {
		req.Header.Add("Host", t.Hostname)
	}
	req.Header.Add("User-Agent", userAgent)
	req.Header.Add("Connection", "close")
	req.Header.Add("Proxy-Connection", "close")
	return req
}

// fetch sends the request to the origin and captures the complete response:
// status line, header lines, blank line and body, exactly as received.
//
// The body is framed as follows:
//
// Content-Length declared     -> length + 2 bytes (ErrOversizedPayload above the buffer ceiling)
// neither length nor type     -> no body
// only Content-Type declared  -> everything until the origin closes the connection
func (f *forwarder) fetch(t target.Target, h clientHeader, logger *zerolog.Logger) ([]byte, error) {
	req := originRequest(t, h).Bytes()
	if len(req) > f.maxRequestSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRequestTooLarge, len(req))
	}

	conn, err := f.dial("tcp", t.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOriginUnreachable, err)
	}
	defer conn.Close()

	logger.Trace().Str("origin", t.Address()).Int("bytes", len(req)).Msg("Sending request to origin")
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOriginWrite, err)
	}

	r := bufio.NewReader(conn)
	head, contentLength, hasType, err := f.readHead(r)
	if err != nil {
		return nil, err
	}
	logger.Trace().
		Int("contentLength", contentLength).
		Bool("contentType", hasType).
		Int("head", len(head)).
		Msg("Read response head from origin")

	if contentLength > f.maxResponseSize {
		return nil, fmt.Errorf("%w: declared Content-Length %d", ErrOversizedPayload, contentLength)
	}

	res := bytes.NewBuffer(head)
	switch {
	case contentLength >= 0:
		body := make([]byte, contentLength+trailerSize)
		n, err := io.ReadFull(r, body)
		// a short body is kept as far as it arrived
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrOriginRead, err)
		}
		res.Write(body[:n])
	case !hasType:
		// no body
	default:
		remaining := int64(f.maxResponseSize - res.Len())
		n, err := io.Copy(res, io.LimitReader(r, remaining+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOriginRead, err)
		}
		if n > remaining {
			return nil, fmt.Errorf("%w: streamed body exceeds %d bytes", ErrOversizedPayload, f.maxResponseSize)
		}
	}
	return res.Bytes(), nil
}

// readHead reads the status line and header lines including the blank line.
// It returns the declared Content-Length (-1 if none) and whether a Content-Type was declared.
func (f *forwarder) readHead(r *bufio.Reader) ([]byte, int, bool, error) {
	var (
		head          bytes.Buffer
		contentLength = -1
		hasType       bool
	)
	status, err := r.ReadString('\n')
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: status line: %v", ErrOriginRead, err)
	}
	head.WriteString(status)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, 0, false, fmt.Errorf("%w: header block: %v", ErrOriginRead, err)
		}
		if head.Len()+len(line) > f.maxHeaderSize {
			return nil, 0, false, fmt.Errorf("%w: origin response", ErrHeaderTooLarge)
		}
		head.WriteString(line)
		if message.IsBlankLine(line) {
			break
		}
		field, ok := message.ParseField(line)
		if !ok {
			continue
		}
		switch strings.ToLower(field.Name) {
		case "content-length":
			if n, err := strconv.Atoi(field.Value); err == nil && n >= 0 {
				contentLength = n
			}
		case "content-type":
			hasType = true
		}
	}
	return head.Bytes(), contentLength, hasType, nil
}
