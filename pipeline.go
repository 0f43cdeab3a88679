package forwardproxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/always-cache/forward-proxy/cache"
	"github.com/always-cache/forward-proxy/pkg/target"
)

// request holds everything known about the request being served on one connection.
type request struct {
	line        requestLine
	target      target.Target
	cacheStatus CacheStatus
	written     int
	log         *zerolog.Logger
}

// serve runs the request pipeline for one connection.
// The returned error says why the pipeline stopped early; the caller only logs it.
func (p *Proxy) serve(conn net.Conn, logger *zerolog.Logger) error {
	reader := bufio.NewReader(io.LimitReader(conn, int64(p.maxRequestSize)))
	req := &request{log: logger}

	line, err := readRequestLine(reader)
	req.line = line
	if errors.Is(err, ErrUnsupportedMethod) {
		req.cacheStatus.Forward(FwdReasonMethod)
		if werr := req.write(conn, notImplementedPage(line.Method).Bytes()); werr != nil {
			return werr
		}
		p.logRequest(req)
		return err
	}
	if err != nil {
		return err
	}
	logger.Trace().Str("method", line.Method).Str("uri", line.URI).Str("proto", line.Proto).Msg("Read request line")

	header, err := readHeaderBlock(reader, p.maxHeaderSize)
	if err != nil {
		return err
	}

	if req.target, err = target.Resolve(line.URI); err != nil {
		return fmt.Errorf("%w: %q", err, line.URI)
	}

	if content, ok := p.lookup(req); ok {
		req.cacheStatus.Hit()
		if err := req.write(conn, content); err != nil {
			return err
		}
		p.logRequest(req)
		return nil
	}

	res, err := p.forwarder.fetch(req.target, header, logger)
	if errors.Is(err, ErrOversizedPayload) {
		if werr := req.write(conn, payloadTooLargePage(req.target.String()).Bytes()); werr != nil {
			return werr
		}
		p.logRequest(req)
		return err
	}
	if err != nil {
		return err
	}
	if err := req.write(conn, res); err != nil {
		return err
	}

	p.store(req, res)
	p.logRequest(req)
	return nil
}

// lookup consults the cache. Cache errors are logged and treated as a miss.
func (p *Proxy) lookup(req *request) ([]byte, bool) {
	content, ok, err := p.cache.Lookup(req.target)
	if err != nil {
		req.log.Error().Err(err).Str("target", req.target.String()).Msg("Could not read from cache")
		req.cacheStatus.Forward(FwdReasonBypass)
		return nil, false
	}
	if !ok {
		req.cacheStatus.Forward(FwdReasonUriMiss)
	}
	return content, ok
}

// store saves a relayed response if it is small enough and admitted by the rules.
func (p *Proxy) store(req *request, res []byte) {
	if len(res) > p.maxObjectSize {
		req.log.Trace().Int("size", len(res)).Msg("Response too large to cache")
		return
	}
	if !p.rules.Admit(req.target) {
		return
	}
	stored, err := p.cache.Insert(req.target, res)
	if errors.Is(err, cache.ErrObjectTooLarge) {
		// the provider's own ceiling may be lower than the proxy's
		req.log.Trace().Int("size", len(res)).Msg("Response too large for cache provider")
		return
	}
	if err != nil {
		req.log.Error().Err(err).Str("target", req.target.String()).Msg("Could not write to cache")
		return
	}
	req.cacheStatus.Stored = stored
	req.log.Trace().Str("target", req.target.String()).Int("size", len(res)).Bool("stored", stored).Msg("Cache write")
}

func (req *request) write(conn net.Conn, b []byte) error {
	n, err := conn.Write(b)
	req.written += n
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClientWrite, err)
	}
	return nil
}

func (p *Proxy) logRequest(req *request) {
	req.log.Debug().
		Str("method", req.line.Method).
		Str("uri", req.line.URI).
		Str("host", req.target.Hostname).
		Str("port", req.target.Port).
		Str("path", req.target.Path).
		Str("status", string(req.cacheStatus.Status)).
		Str("fwd", string(req.cacheStatus.FwdReason)).
		Bool("stored", req.cacheStatus.Stored).
		Int("bytes", req.written).
		Str("cacheStatus", req.cacheStatus.String()).
		Msg("Sent response to client")
}
