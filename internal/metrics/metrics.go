package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AsksTotal counts Ask calls by path (provider|backend) and result
	AsksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askgpt_asks_total",
		Help: "Total chat asks by path and result",
	}, []string{"path", "result"})

	// ChunksTotal counts stream responses delivered to callbacks by consumer variant
	ChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askgpt_stream_chunks_total",
		Help: "Total streamed chunks by consumer variant",
	}, []string{"variant"})

	// ErrorsTotal counts failures by kind
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askgpt_errors_total",
		Help: "Total chat errors by kind",
	}, []string{"kind"})

	// RecordsAppended counts records written after successful exchanges
	RecordsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "askgpt_records_appended_total",
		Help: "Total conversation records appended",
	})
)

const (
	PathProvider = "provider"
	PathBackend  = "backend"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)
