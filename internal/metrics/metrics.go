package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_logins_total",
		Help: "Total number of login attempts by result",
	}, []string{"result"})
	RecipientsAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reminder_recipients_added_total",
		Help: "Total number of recipients added to a registry",
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminder_sessions_active",
		Help: "Number of live operator sessions",
	})

	// Dispatch metrics
	DispatchRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_dispatch_runs_total",
		Help: "Total number of finished dispatch runs by terminal state",
	}, []string{"state"})
	DispatchActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminder_dispatch_active",
		Help: "Number of dispatch runs not yet finished",
	})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_mail_send_success_total",
		Help: "Total number of reminder emails sent",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_mail_send_failure_total",
		Help: "Total number of reminder emails that failed to send",
	}, []string{"host"})
	MailConnectFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_mail_connect_failure_total",
		Help: "Total number of failed transport session opens",
	}, []string{"host"})

	// Resource monitor gauges
	HostMemoryTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminder_host_memory_total_bytes",
		Help: "Total host memory",
	})
	HostMemoryUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminder_host_memory_used_bytes",
		Help: "Used host memory",
	})
	ProcessRSS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminder_process_rss_bytes",
		Help: "Resident set size of this process",
	})
	CPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminder_host_cpu_percent",
		Help: "Host CPU utilisation over the last sample window",
	})
	AppStorage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reminder_app_storage_bytes",
		Help: "Bytes used by the application directory",
	})
)

func init() {
	prometheus.MustRegister(Logins)
	prometheus.MustRegister(RecipientsAdded)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(DispatchRuns)
	prometheus.MustRegister(DispatchActive)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailConnectFailure)
	prometheus.MustRegister(HostMemoryTotal)
	prometheus.MustRegister(HostMemoryUsed)
	prometheus.MustRegister(ProcessRSS)
	prometheus.MustRegister(CPUPercent)
	prometheus.MustRegister(AppStorage)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
