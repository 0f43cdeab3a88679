package forwardproxy

import (
	"errors"
	"net"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/always-cache/forward-proxy/cache"
	"github.com/always-cache/forward-proxy/pkg/admission"
)

const (
	MaxRequestSize  = 100000
	MaxResponseSize = 1049000
	MaxHeaderSize   = 100000
	// DefaultRenumberThreshold is just below the largest signed 32-bit value.
	DefaultRenumberThreshold = 2147483600
)

type Config struct {
	// Storage for cache entries. A memory cache with default limits is used if nil.
	Cache cache.Provider
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Optional rules restricting which responses are cached.
	Rules admission.Rules
	// Dial opens origin connections. net.Dial is used if nil.
	Dial DialFunc
	// Largest response eligible for caching. Defaults to cache.DefaultMaxObjectSize.
	MaxObjectSize int
	// The cache clock is renumbered once it exceeds this value.
	RenumberThreshold int64
	// Interval of the background clock check, in addition to the check after
	// every accepted connection. Zero disables the background check.
	MaintenanceInterval time.Duration
}

type Proxy struct {
	cache               cache.Provider
	log                 zerolog.Logger
	rules               admission.Rules
	forwarder           forwarder
	maxRequestSize      int
	maxHeaderSize       int
	maxObjectSize       int
	renumberThreshold   int64
	maintenanceInterval time.Duration
}

// CreateProxy initializes a proxy instance from the given config.
func CreateProxy(config Config) *Proxy {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	p := &Proxy{
		cache:               config.Cache,
		log:                 logger,
		rules:               config.Rules,
		maxRequestSize:      MaxRequestSize,
		maxHeaderSize:       MaxHeaderSize,
		maxObjectSize:       config.MaxObjectSize,
		renumberThreshold:   config.RenumberThreshold,
		maintenanceInterval: config.MaintenanceInterval,
		forwarder: forwarder{
			dial:            config.Dial,
			maxRequestSize:  MaxRequestSize,
			maxResponseSize: MaxResponseSize,
			maxHeaderSize:   MaxHeaderSize,
		},
	}
	if p.cache == nil {
		p.cache = cache.NewMemCache(cache.Limits{})
	}
	if p.forwarder.dial == nil {
		p.forwarder.dial = net.Dial
	}
	if p.maxObjectSize <= 0 {
		p.maxObjectSize = cache.DefaultMaxObjectSize
	}
	if p.renumberThreshold <= 0 {
		p.renumberThreshold = DefaultRenumberThreshold
	}
	return p
}

// Cache returns the cache the proxy stores responses in.
func (p *Proxy) Cache() cache.Provider {
	return p.cache
}

// ListenAndServe listens on the TCP network address addr and calls Serve.
func (p *Proxy) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		p.log.Error().Err(err).Str("addr", addr).Msg("Could not listen")
		return err
	}
	return p.Serve(ln)
}

// Serve accepts connections on the listener and serves each one in its own goroutine.
// After every accept it checks whether the cache clock needs renumbering.
// Serve returns nil once the listener is closed.
func (p *Proxy) Serve(ln net.Listener) error {
	defer ln.Close()
	p.log.Info().Str("addr", ln.Addr().String()).Msg("Accepting connections")

	done := make(chan struct{})
	defer close(done)
	if p.maintenanceInterval > 0 {
		go p.maintainPeriodically(done)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				p.log.Info().Msg("Listener closed")
				return nil
			}
			p.log.Error().Err(err).Msg("Failed to accept connection")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		go p.ServeConn(conn)
		p.maintainClock()
	}
}

// ServeConn serves a single request on the connection and closes it.
func (p *Proxy) ServeConn(conn net.Conn) {
	logger := p.log.With().
		Str("conn", xid.New().String()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	defer func() {
		if err := conn.Close(); err != nil {
			logger.Trace().Err(err).Msg("Error closing connection")
		}
	}()

	logger.Trace().Msg("Accepted connection")
	if err := p.serve(conn, &logger); err != nil {
		logError(&logger, err)
	}
}
