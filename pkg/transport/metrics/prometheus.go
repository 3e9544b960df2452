package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSentTotal counts outbound messages (kind=correlated/fire_and_forget)
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskwire",
		Subsystem: "transport",
		Name:      "messages_sent_total",
		Help:      "Messages written to the wire",
	}, []string{"kind"})

	// MessagesReceivedTotal counts inbound messages (kind=response/broadcast)
	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deskwire",
		Subsystem: "transport",
		Name:      "messages_received_total",
		Help:      "Messages read from the wire",
	}, []string{"kind"})

	// ReconnectsTotal counts unexpected connection drops
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskwire",
		Subsystem: "transport",
		Name:      "reconnects_total",
		Help:      "Unexpected connection drops that scheduled a reconnect",
	})

	// RequestTimeoutsTotal counts correlated requests that timed out
	RequestTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskwire",
		Subsystem: "transport",
		Name:      "request_timeouts_total",
		Help:      "Correlated requests rejected by the timeout",
	})

	// RequestsInFlight tracks open correlation entries
	RequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "deskwire",
		Subsystem: "transport",
		Name:      "requests_in_flight",
		Help:      "Correlated requests awaiting a response",
	})

	// QueuedOperations tracks sends buffered while disconnected
	QueuedOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "deskwire",
		Subsystem: "transport",
		Name:      "queued_operations",
		Help:      "Send calls queued while not connected",
	})

	// MalformedMessagesTotal counts dropped unparsable inbound messages
	MalformedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskwire",
		Subsystem: "transport",
		Name:      "malformed_messages_total",
		Help:      "Inbound messages dropped because they failed to parse",
	})

	// HandlerPanicsTotal counts panics recovered at the dispatch boundary
	HandlerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deskwire",
		Subsystem: "transport",
		Name:      "handler_panics_total",
		Help:      "Panics recovered from caller-supplied handlers and listeners",
	})
)
