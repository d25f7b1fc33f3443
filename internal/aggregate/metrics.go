package aggregate

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var branchErrorCounter metric.Int64Counter

func init() {
	var err error
	branchErrorCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"qaflow.aggregate.branch_errors",
		metric.WithDescription("Context branches that failed and were captured into a snapshot"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create branch error counter: %v", err))
	}
}
