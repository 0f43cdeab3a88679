package forwardproxy

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/always-cache/forward-proxy/pkg/message"
)

// requestLine is the first line of a client request.
type requestLine struct {
	Method string
	URI    string
	Proto  string
}

// clientHeader is the client's header block, kept verbatim for forwarding.
type clientHeader struct {
	Raw     []byte
	HasHost bool
}

// readRequestLine reads and splits the request line.
// A method other than GET yields ErrUnsupportedMethod together with the parsed line,
// so that the caller can name the method in its error page.
func readRequestLine(r *bufio.Reader) (requestLine, error) {
	line, err := r.ReadString('\n')
	fields := strings.Fields(line)
	if len(fields) == 0 {
		if err != nil {
			return requestLine{}, fmt.Errorf("%w: %v", ErrMalformedRequestLine, err)
		}
		return requestLine{}, ErrMalformedRequestLine
	}
	rl := requestLine{Method: fields[0]}
	if len(fields) > 1 {
		rl.URI = fields[1]
	}
	if len(fields) > 2 {
		rl.Proto = fields[2]
	}
	if !strings.EqualFold(rl.Method, "GET") {
		return rl, fmt.Errorf("%w: %s", ErrUnsupportedMethod, rl.Method)
	}
	if rl.URI == "" {
		return rl, fmt.Errorf("%w: no request target", ErrMalformedRequestLine)
	}
	return rl, nil
}

// readHeaderBlock reads header lines up to and excluding the blank line that ends them.
// The lines are kept byte-for-byte, terminators included.
func readHeaderBlock(r *bufio.Reader, maxSize int) (clientHeader, error) {
	var (
		buf bytes.Buffer
		h   clientHeader
	)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return h, fmt.Errorf("reading header block: %w", err)
		}
		if message.IsBlankLine(line) {
			break
		}
		if buf.Len()+len(line) > maxSize {
			return h, ErrHeaderTooLarge
		}
		if f, ok := message.ParseField(line); ok && strings.EqualFold(f.Name, "Host") {
			h.HasHost = true
		}
		buf.WriteString(line)
	}
	h.Raw = buf.Bytes()
	return h, nil
}
