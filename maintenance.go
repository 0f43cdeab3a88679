package forwardproxy

import "time"

// maintainClock renumbers the cache once its logical clock passes the threshold,
// long before the clock could overflow.
func (p *Proxy) maintainClock() {
	clock := p.cache.Clock()
	if clock <= p.renumberThreshold {
		return
	}
	p.log.Info().Int64("clock", clock).Int64("threshold", p.renumberThreshold).Msg("Renumbering cache clock")
	if err := p.cache.Renumber(); err != nil {
		p.log.Error().Err(err).Msg("Could not renumber cache clock")
		return
	}
	p.log.Debug().Int64("clock", p.cache.Clock()).Msg("Renumbered cache clock")
}

// maintainPeriodically runs maintainClock every maintenance interval until done is closed.
// It covers idle periods in which no connection is accepted.
func (p *Proxy) maintainPeriodically(done <-chan struct{}) {
	p.log.Info().Msgf("Starting clock maintenance loop with interval %s", p.maintenanceInterval)
	ticker := time.NewTicker(p.maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.maintainClock()
		}
	}
}
