package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Toolgate gateway metrics definition
var (
	ToolgateServerInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolgate_server_info",
			Help: "Information about the gateway including version and build details",
		},
		[]string{
			"server_name",
			"version",
			"git_commit",
			"build_date",
		},
	)

	ToolgateRegisteredTools = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolgate_registered_tools",
			Help: "Set to 1 for each tool registered on an app server",
		},
		[]string{
			"tool_name",
			"app_name",
		},
	)

	ToolgateOpenSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolgate_open_sessions",
			Help: "Number of currently open session streams per app",
		},
		[]string{
			"app_name",
		},
	)

	ToolgateMessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_messages_delivered_total",
			Help: "Messages accepted for delivery on the message endpoint",
		},
		[]string{
			"app_name",
			"status",
		},
	)

	ToolgateToolInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_tool_invocations_total",
			Help: "Tool calls executed by app servers",
		},
		[]string{
			"app_name",
			"tool_name",
			"status",
		},
	)
)

func InitServer() *prometheus.Registry {
	// New registry for our custom metrics, separate from the default registry
	registry := prometheus.NewRegistry()

	// Add Go runtime metrics ( goroutines, GC stats, etc. )
	registry.MustRegister(collectors.NewGoCollector())

	// Add process metrics (CPU, memory, file descriptors, etc. )
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register gateway metrics
	registry.MustRegister(ToolgateServerInfo)
	registry.MustRegister(ToolgateRegisteredTools)
	registry.MustRegister(ToolgateOpenSessions)
	registry.MustRegister(ToolgateMessagesDelivered)
	registry.MustRegister(ToolgateToolInvocations)

	return registry
}
