package forwardproxy

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/always-cache/forward-proxy/pkg/target"
)

var (
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrUnsupportedMethod    = errors.New("method not implemented")
	ErrHeaderTooLarge       = errors.New("header block too large")
	ErrRequestTooLarge      = errors.New("request too large")
	ErrMalformedURI         = target.ErrMalformedURI
	ErrOriginUnreachable    = errors.New("origin unreachable")
	ErrOriginWrite          = errors.New("could not write request to origin")
	ErrOriginRead           = errors.New("could not read response from origin")
	ErrOversizedPayload     = errors.New("origin payload too large")
	ErrClientWrite          = errors.New("could not write response to client")
)

// logError logs a failed request at a level matching how it ended for the client.
func logError(logger *zerolog.Logger, err error) {
	switch {
	case errors.Is(err, ErrUnsupportedMethod), errors.Is(err, ErrOversizedPayload):
		// answered with an error page
		logger.Warn().Err(err).Msg("Request rejected")
	case errors.Is(err, ErrMalformedRequestLine), errors.Is(err, ErrMalformedURI),
		errors.Is(err, ErrHeaderTooLarge), errors.Is(err, ErrRequestTooLarge):
		logger.Debug().Err(err).Msg("Dropping request")
	case errors.Is(err, ErrClientWrite):
		logger.Warn().Err(err).Msg("Client went away")
	default:
		logger.Error().Err(err).Msg("Could not serve request")
	}
}
