package buildwait

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/qaflow/internal/buildwait"

var (
	meter = otel.Meter(instrumentationName)

	// pollCounter counts status reads issued while waiting.
	pollCounter metric.Int64Counter

	// outcomeCounter counts finished waits by final state.
	outcomeCounter metric.Int64Counter

	// waitDuration tracks how long waits take end to end.
	waitDuration metric.Float64Histogram

	// sideEffectCounter counts status section updates by result.
	sideEffectCounter metric.Int64Counter
)

func init() {
	var err error

	pollCounter, err = meter.Int64Counter(
		"qaflow.buildwait.polls",
		metric.WithDescription("Build status reads issued by waiters"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create poll counter: %v", err))
	}

	outcomeCounter, err = meter.Int64Counter(
		"qaflow.buildwait.outcomes",
		metric.WithDescription("Finished build waits by final state"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create outcome counter: %v", err))
	}

	waitDuration, err = meter.Float64Histogram(
		"qaflow.buildwait.duration",
		metric.WithDescription("Duration of build waits"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create wait duration histogram: %v", err))
	}

	sideEffectCounter, err = meter.Int64Counter(
		"qaflow.buildwait.side_effects",
		metric.WithDescription("Build status section updates by result"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create side effect counter: %v", err))
	}
}
