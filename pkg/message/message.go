package message

import (
	"bytes"
	"strconv"
	"strings"
)

// CRLF terminates every line of an HTTP/1.0 message head.
const CRLF = "\r\n"

// Field is a single header field.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields.
// Unlike http.Header it keeps the order and the exact spelling of field names,
// which matters for a proxy relaying headers verbatim.
type Header []Field

// Add appends a field.
func (h *Header) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// Get returns the value of the first field with the given name,
// along with a boolean indicating whether the field is present.
// Names are compared case-insensitively.
func (h Header) Get(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Has returns whether a field with the given name is present.
func (h Header) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

func (h Header) write(buf *bytes.Buffer) {
	for _, f := range h {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString(CRLF)
	}
}

// ParseField parses a raw header line such as "Content-Length: 10\r\n".
// It returns false if the line has no name/value separator.
func ParseField(line string) (Field, bool) {
	name, value, found := strings.Cut(strings.TrimRight(line, CRLF), ":")
	if !found || name == "" {
		return Field{}, false
	}
	return Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}, true
}

// IsBlankLine reports whether a raw line ends a message head.
func IsBlankLine(line string) bool {
	return line == CRLF || line == "\n"
}

// Request is an HTTP/1.0 request head.
type Request struct {
	Method string
	URI    string
	Proto  string
	Header Header
	// Passthrough is written verbatim after Header.
	// It must consist of complete header lines including their terminators.
	Passthrough []byte
}

// Bytes serializes the request head, including the terminating blank line.
func (r *Request) Bytes() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(r.Method + " " + r.URI + " " + r.Proto + CRLF)
	r.Header.write(buf)
	buf.Write(r.Passthrough)
	buf.WriteString(CRLF)
	return buf.Bytes()
}

// Response is a complete response with a body of known length.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     Header
	Body       []byte
}

// Bytes serializes the status line, header fields, blank line and body.
func (r *Response) Bytes() []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(r.Body) + 256)
	buf.WriteString(r.Proto + " " + strconv.Itoa(r.StatusCode) + " " + r.Reason + CRLF)
	r.Header.write(buf)
	buf.WriteString(CRLF)
	buf.Write(r.Body)
	return buf.Bytes()
}
