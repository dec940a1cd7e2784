// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nori-bridge/internal/protocol/nori"
	"nori-bridge/pkg/devicetypes"
)

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the exposition handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// BridgeMetrics holds the bridge's business metrics and implements nori.Observer
type BridgeMetrics struct {
	FramesEncoded    *prometheus.CounterVec // labels: action, kind
	FramesDecoded    *prometheus.CounterVec // labels: kind
	FramesDropped    prometheus.Counter
	CommandsRejected *prometheus.CounterVec // labels: reason
	SendQueueDepth   prometheus.Gauge
	SerialBytes      prometheus.Counter
	WriteErrors      prometheus.Counter
	SessionState     *prometheus.GaugeVec // labels: state
	StateTransitions *prometheus.CounterVec // labels: to
	HostMessages     *prometheus.CounterVec // labels: result=ok|invalid|limited
	HostClients      prometheus.Gauge
	ReadingsStored   *prometheus.CounterVec // labels: result=ok|error
}

var sessionStates = []nori.State{
	nori.StateDisconnected,
	nori.StateAwaitingHandshake,
	nori.StateConnected,
	nori.StateReset,
}

// NewBridgeMetrics registers and returns the bridge metrics
func NewBridgeMetrics(reg prometheus.Registerer, namespace string) *BridgeMetrics {
	m := &BridgeMetrics{
		FramesEncoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_encoded_total",
			Help:      "Outbound frames encoded by action and device kind.",
		}, []string{"action", "kind"}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Inbound frames decoded by device kind.",
		}, []string{"kind"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that failed to decode.",
		}),
		CommandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Host requests suppressed before encoding.",
		}, []string{"reason"}),
		SendQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_queue_depth",
			Help:      "Buffers waiting in the send queue.",
		}),
		SerialBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_bytes_written_total",
			Help:      "Bytes written to the board.",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_write_errors_total",
			Help:      "Failed transport writes.",
		}),
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"to"}),
		HostMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_messages_total",
			Help:      "Websocket messages received from the host.",
		}, []string{"result"}),
		HostClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_clients",
			Help:      "Connected websocket host clients.",
		}),
		ReadingsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_stored_total",
			Help:      "Sensor readings persisted.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.FramesEncoded, m.FramesDecoded, m.FramesDropped, m.CommandsRejected,
		m.SendQueueDepth, m.SerialBytes, m.WriteErrors, m.SessionState,
		m.StateTransitions, m.HostMessages, m.HostClients, m.ReadingsStored,
	)
	m.setState(nori.StateDisconnected)
	return m
}

func (m *BridgeMetrics) FrameEncoded(action devicetypes.Action, kind devicetypes.DeviceKind) {
	m.FramesEncoded.WithLabelValues(action.String(), kind.String()).Inc()
}

func (m *BridgeMetrics) FrameDecoded(kind devicetypes.DeviceKind) {
	m.FramesDecoded.WithLabelValues(kind.String()).Inc()
}

func (m *BridgeMetrics) FrameDropped() {
	m.FramesDropped.Inc()
}

func (m *BridgeMetrics) CommandRejected(reason string) {
	m.CommandsRejected.WithLabelValues(reason).Inc()
}

func (m *BridgeMetrics) QueueDepth(n int) {
	m.SendQueueDepth.Set(float64(n))
}

func (m *BridgeMetrics) BytesWritten(n int, err error) {
	if err != nil {
		m.WriteErrors.Inc()
		return
	}
	m.SerialBytes.Add(float64(n))
}

func (m *BridgeMetrics) StateChanged(_, to nori.State) {
	m.StateTransitions.WithLabelValues(to.String()).Inc()
	m.setState(to)
}

func (m *BridgeMetrics) setState(current nori.State) {
	for _, s := range sessionStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.SessionState.WithLabelValues(s.String()).Set(v)
	}
}

var _ nori.Observer = (*BridgeMetrics)(nil)
