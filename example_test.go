package forwardproxy_test

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	forwardproxy "github.com/always-cache/forward-proxy"
	"github.com/always-cache/forward-proxy/admin"
	"github.com/always-cache/forward-proxy/cache"
	"github.com/always-cache/forward-proxy/pkg/admission"
)

func ExampleCreateProxy() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	provider := cache.NewMemCache(cache.Limits{Capacity: 10 << 20})
	proxy := forwardproxy.CreateProxy(forwardproxy.Config{
		Cache:  provider,
		Logger: &logger,
		Rules: admission.Rules{
			{Host: "intranet.example", Store: false},
		},
		MaintenanceInterval: 5 * time.Minute,
	})

	go http.ListenAndServe("127.0.0.1:9090", admin.NewHandler(provider, logger))

	if err := proxy.ListenAndServe(":8080"); err != nil {
		logger.Fatal().Err(err).Msg("Proxy stopped")
	}
}
