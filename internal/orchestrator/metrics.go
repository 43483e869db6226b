package orchestrator

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/backlogd/internal/orchestrator"

var (
	iterationsTotal  metric.Int64Counter
	dispatchFailures metric.Int64Counter
	gateExecutions   metric.Int64Counter
	runDuration      metric.Float64Histogram

	metricsOnce sync.Once
)

// initMetricsOnce registers orchestrator metrics against the global
// meter provider. With no SDK configured the instruments are no-ops.
func initMetricsOnce() {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)

		var err error

		iterationsTotal, err = meter.Int64Counter(
			"backlogd.orchestrator.iterations",
			metric.WithDescription("Total orchestration loop iterations (one dispatch attempt each)"),
			metric.WithUnit("{iteration}"),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create iterations counter: %v", err))
		}

		dispatchFailures, err = meter.Int64Counter(
			"backlogd.orchestrator.dispatch_failures",
			metric.WithDescription("Worker dispatch failures (timeouts and transport errors)"),
			metric.WithUnit("{failure}"),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create dispatch failures counter: %v", err))
		}

		gateExecutions, err = meter.Int64Counter(
			"backlogd.orchestrator.gate_executions",
			metric.WithDescription("Quality gate command executions"),
			metric.WithUnit("{execution}"),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create gate executions counter: %v", err))
		}

		runDuration, err = meter.Float64Histogram(
			"backlogd.orchestrator.run_duration",
			metric.WithDescription("Duration of complete orchestration runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create run duration histogram: %v", err))
		}
	})
}
