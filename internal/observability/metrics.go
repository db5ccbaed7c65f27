package observability

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Counter and gauge names recorded by the core.
const (
	MetricReconnectAttempts  = "reconnect_attempts_total"
	MetricReconnectExhausted = "reconnect_exhausted_total"
	MetricFramesReceived     = "frames_received_total"
	MetricParseDrops         = "frame_parse_drops_total"
	MetricUnknownStatuses    = "unknown_status_total"
	MetricOrdersMerged       = "orders_merged_total"
	MetricPlaceholderOrders  = "placeholder_orders_total"
	MetricPaymentSessions    = "payment_sessions_total"
	MetricSnapshotResyncs    = "snapshot_resyncs_total"
	MetricConnectionState    = "connection_state"
)

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)   {}
