package host

import (
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/rcrowley/go-metrics"

	"github.com/ardnew/softhcd/pkg"
)

// Metric names registered in the host's registry.
const (
	MetricTransferComplete     = "transfer.complete"
	MetricTransferShort        = "transfer.short"
	MetricTransferStall        = "transfer.stall"
	MetricTransferTimeout      = "transfer.timeout"
	MetricTransferStop         = "transfer.stop"
	MetricTransferOverrun      = "transfer.overrun"
	MetricTransferDataError    = "transfer.data_error"
	MetricTransferNoConnection = "transfer.no_connection"
	MetricSetupRetry           = "control.setup_retry"
	MetricNRDYRetry            = "pipe.nrdy_retry"
	MetricIsoNRDY              = "pipe.iso_nrdy"
	MetricPoolExhausted        = "mailbox.pool_exhausted"
	MetricMailboxRetry         = "mailbox.retry"
	MetricEnumComplete         = "enum.complete"
	MetricEnumFailed           = "enum.failed"
	MetricEnumStringSkipped    = "enum.string_skipped"
	MetricEnumUnclaimed        = "enum.unclaimed"
	MetricHubDescriptorAssumed = "hub.descriptor_assumed"
	MetricHubOverCurrent       = "hub.overcurrent"
	MetricPortOverCurrent      = "port.overcurrent"
	MetricPowerCut             = "hcd.power_cut"
	MetricSOF                  = "sof"
)

type stats struct {
	registry metrics.Registry

	transfers     [pkg.TransferStatusNoConnection + 1]metrics.Counter
	setupRetry    metrics.Counter
	nrdyRetry     metrics.Counter
	isoNRDY       metrics.Counter
	poolExhausted metrics.Counter
	mailboxRetry  metrics.Counter
	enumComplete  metrics.Counter
	enumFailed    metrics.Counter
	stringSkipped metrics.Counter
	unclaimed     metrics.Counter
	hubAssumed    metrics.Counter
	hubOverCur    metrics.Counter
	portOverCur   metrics.Counter
	powerCut      metrics.Counter
	sof           metrics.Counter

	rate *ratecounter.RateCounter
}

func newStats() *stats {
	r := metrics.NewRegistry()
	c := func(name string) metrics.Counter {
		return metrics.GetOrRegisterCounter(name, r)
	}
	s := &stats{
		registry:      r,
		setupRetry:    c(MetricSetupRetry),
		nrdyRetry:     c(MetricNRDYRetry),
		isoNRDY:       c(MetricIsoNRDY),
		poolExhausted: c(MetricPoolExhausted),
		mailboxRetry:  c(MetricMailboxRetry),
		enumComplete:  c(MetricEnumComplete),
		enumFailed:    c(MetricEnumFailed),
		stringSkipped: c(MetricEnumStringSkipped),
		unclaimed:     c(MetricEnumUnclaimed),
		hubAssumed:    c(MetricHubDescriptorAssumed),
		hubOverCur:    c(MetricHubOverCurrent),
		portOverCur:   c(MetricPortOverCurrent),
		powerCut:      c(MetricPowerCut),
		sof:           c(MetricSOF),
		rate:          ratecounter.NewRateCounter(time.Second),
	}
	s.transfers[pkg.TransferStatusSuccess] = c(MetricTransferComplete)
	s.transfers[pkg.TransferStatusShort] = c(MetricTransferShort)
	s.transfers[pkg.TransferStatusStall] = c(MetricTransferStall)
	s.transfers[pkg.TransferStatusTimeout] = c(MetricTransferTimeout)
	s.transfers[pkg.TransferStatusStop] = c(MetricTransferStop)
	s.transfers[pkg.TransferStatusOverrun] = c(MetricTransferOverrun)
	s.transfers[pkg.TransferStatusDataError] = c(MetricTransferDataError)
	s.transfers[pkg.TransferStatusNoConnection] = c(MetricTransferNoConnection)
	return s
}

func (s *stats) transfer(status pkg.TransferStatus) {
	if status >= 0 && int(status) < len(s.transfers) {
		s.transfers[status].Inc(1)
	}
	s.rate.Incr(1)
}

// Metrics returns the host's metrics registry.
func (h *Host) Metrics() metrics.Registry {
	return h.stats.registry
}

// Counter returns the current value of a named counter, or 0.
func (h *Host) Counter(name string) int64 {
	if c, ok := h.stats.registry.Get(name).(metrics.Counter); ok {
		return c.Count()
	}
	return 0
}

// TransferRate returns the number of transfers completed in the last second.
func (h *Host) TransferRate() int64 {
	return h.stats.rate.Rate()
}
