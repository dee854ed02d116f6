package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classbuddy_messages_sent_total",
		Help: "Messages persisted through the messaging API or realtime channel.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "classbuddy_realtime_sessions",
		Help: "Realtime sessions currently subscribed to a conversation.",
	})

	BroadcastDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classbuddy_realtime_dropped_sessions_total",
		Help: "Sessions disconnected because their send buffer was full.",
	})

	TypingEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classbuddy_typing_events_total",
		Help: "Typing events by outcome.",
	}, []string{"outcome"})

	AttachmentBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classbuddy_attachment_upload_bytes_total",
		Help: "Bytes accepted for attachment uploads.",
	})
)

func init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(BroadcastDrops)
	prometheus.MustRegister(TypingEvents)
	prometheus.MustRegister(AttachmentBytes)
}
