package pagination

import (
	"context"
	"time"

	"github.com/Sternrassler/doctor-search-proxy/pkg/index"
	"github.com/Sternrassler/doctor-search-proxy/pkg/ratelimit"
	"github.com/Sternrassler/doctor-search-proxy/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch sessions.
var (
	fetchSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsearch_fetch_sessions_total",
		Help: "Total fetch sessions by outcome",
	}, []string{"outcome"}) // "success", "empty", "transport", "upstream_status"

	fetchSessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docsearch_fetch_session_duration_seconds",
		Help:    "Fetch session duration including pacing delays",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	fetchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsearch_fetch_pages_total",
		Help: "Total provider pages accumulated by fetch sessions",
	})

	fetchRecords = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docsearch_fetch_records",
		Help:    "Records assembled per successful fetch session",
		Buckets: []float64{0, 10, 100, 500, 1000, 4000, 10000},
	})

	pacingDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docsearch_pacing_delay_seconds",
		Help:    "Pacing delays waited out between provider requests",
		Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 5},
	})

	cacheWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsearch_cache_write_failures_total",
		Help: "Total bulk index writes that failed after a completed fetch",
	})
)

// PageFetcher is the interface the provider client must implement for
// single-page fetching.
type PageFetcher interface {
	// FetchPage fetches the page of results for name starting at skip.
	FetchPage(ctx context.Context, name string, skip int) (*types.Page, error)
}

// Pacer computes the delay before the next provider request.
type Pacer interface {
	Delay(total int) time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds coordinator configuration.
type Config struct {
	// SessionTimeout bounds a whole session, pacing included. Zero disables
	// it; each provider request is still bounded by the client timeout.
	SessionTimeout time.Duration
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{}
}

// Coordinator runs fetch sessions.
type Coordinator struct {
	fetcher PageFetcher
	writer  index.Writer
	pacer   Pacer
	sleep   SleepFunc
	now     func() time.Time
	config  Config
	logger  zerolog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(fetcher PageFetcher, writer index.Writer, pacer Pacer, config Config) *Coordinator {
	return &Coordinator{
		fetcher: fetcher,
		writer:  writer,
		pacer:   pacer,
		sleep:   sleepContext,
		now:     time.Now,
		config:  config,
		logger:  log.With().Str("component", "fetch-coordinator").Logger(),
	}
}

// SetSleep replaces the pacing wait (for testing).
func (c *Coordinator) SetSleep(fn SleepFunc) {
	c.sleep = fn
}

// FetchAndCache fetches every page for name, caches the result set and
// returns it. The caller must have acquired token; it is released before
// FetchAndCache returns, on every path. Errors are *FetchError.
func (c *Coordinator) FetchAndCache(ctx context.Context, name string, token *ratelimit.Token) ([]types.Record, error) {
	defer token.Release()

	ctx = context.WithoutCancel(ctx)
	if c.config.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.SessionTimeout)
		defer cancel()
	}

	s := newSession(name, c.now())
	c.logger.Info().Str("name", name).Msg("Starting fetch session")

	for !s.State.Terminal() {
		c.Step(ctx, s)
	}

	fetchSessionDuration.Observe(c.now().Sub(s.StartedAt).Seconds())

	if s.State == StateFailed {
		ferr := s.Err.(*FetchError)
		fetchSessionsTotal.WithLabelValues(string(ferr.Kind)).Inc()
		c.logger.Error().
			Err(ferr.Err).
			Str("name", name).
			Str("failure", string(ferr.Kind)).
			Int("status", ferr.Status).
			Int("skip", ferr.Offset).
			Int("pages", s.Pages).
			Msg("Fetch session failed")
		return nil, s.Err
	}

	if s.Total == 0 {
		fetchSessionsTotal.WithLabelValues("empty").Inc()
	} else {
		fetchSessionsTotal.WithLabelValues("success").Inc()
	}
	fetchRecords.Observe(float64(len(s.Records)))

	c.logger.Info().
		Str("name", name).
		Int("records", len(s.Records)).
		Int("total", s.Total).
		Int("pages", s.Pages).
		Bool("cached", s.Written).
		Dur("duration", c.now().Sub(s.StartedAt)).
		Msg("Fetch session complete")

	return s.Records, nil
}

// Step performs the transition out of the session's current state.
// It is a no-op on terminal sessions.
func (c *Coordinator) Step(ctx context.Context, s *Session) {
	from := s.State

	switch s.State {
	case StateFetching:
		c.fetch(ctx, s)
	case StateAwaitingDelay:
		c.awaitDelay(ctx, s)
	case StateWriting:
		c.write(ctx, s)
	default:
		return
	}

	c.logger.Debug().
		Str("name", s.Name).
		Stringer("from", from).
		Stringer("to", s.State).
		Int("next_offset", s.NextOffset).
		Msg("Session transition")
}

func (c *Coordinator) fetch(ctx context.Context, s *Session) {
	page, err := c.fetcher.FetchPage(ctx, s.Name, s.NextOffset)
	if err != nil {
		s.fail(classify(s.Name, s.NextOffset, err))
		return
	}

	s.Pages++
	fetchPagesTotal.Inc()
	s.Records = append(s.Records, page.Data...)
	s.Total = page.Meta.Total

	if page.Meta.Total == 0 {
		s.State = StateDone
		return
	}

	next := page.Meta.NextOffset()
	s.Delay = c.pacer.Delay(page.Meta.Total)

	// A page that does not advance the offset would repeat forever while
	// holding the gate; treat it as the end of the result set.
	if page.Meta.Total > next && next > s.NextOffset {
		if s.Pages%10 == 0 {
			c.logger.Info().
				Str("name", s.Name).
				Int("fetched", len(s.Records)).
				Int("total", page.Meta.Total).
				Msg("Fetch progress")
		}
		s.NextOffset = next
		s.State = StateAwaitingDelay
		return
	}

	if page.Meta.Total > next {
		c.logger.Warn().
			Str("name", s.Name).
			Int("skip", page.Meta.Skip).
			Int("count", page.Meta.Count).
			Int("total", page.Meta.Total).
			Msg("Provider page did not advance, ending pagination early")
	}
	s.NextOffset = next
	s.State = StateWriting
}

func (c *Coordinator) awaitDelay(ctx context.Context, s *Session) {
	pacingDelaySeconds.Observe(s.Delay.Seconds())
	if err := c.sleep(ctx, s.Delay); err != nil {
		s.fail(&FetchError{Kind: FailureTransport, Name: s.Name, Offset: s.NextOffset, Err: err})
		return
	}
	s.State = StateFetching
}

func (c *Coordinator) write(ctx context.Context, s *Session) {
	if err := c.writer.BulkWrite(ctx, index.Sequential(s.Records)); err != nil {
		cacheWriteFailuresTotal.Inc()
		c.logger.Error().
			Err(err).
			Str("name", s.Name).
			Int("records", len(s.Records)).
			Msg("Bulk index write failed, returning uncached results")
	} else {
		s.Written = true
	}

	// The fetch already succeeded; an interrupted wait only shortens the
	// cool-down before the gate reopens.
	pacingDelaySeconds.Observe(s.Delay.Seconds())
	if err := c.sleep(ctx, s.Delay); err != nil {
		c.logger.Warn().Err(err).Str("name", s.Name).Msg("Post-write pacing delay interrupted")
	}
	s.State = StateDone
}

// sleepContext waits for d without blocking past ctx.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
