package workflow

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	// stepCounter counts workflow steps by operation, step and status.
	stepCounter metric.Int64Counter

	// verdictCounter counts VerifyAndResolve verdicts.
	verdictCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter(instrumentationName)

	var err error
	stepCounter, err = meter.Int64Counter(
		"qaflow.workflow.steps",
		metric.WithDescription("Ticket workflow steps by status"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create step counter: %v", err))
	}

	verdictCounter, err = meter.Int64Counter(
		"qaflow.workflow.verdicts",
		metric.WithDescription("Verification verdicts"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create verdict counter: %v", err))
	}
}
