package resilience

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/qaflow/internal/resilience"

var retryCounter metric.Int64Counter

func init() {
	var err error
	retryCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"qaflow.resilience.retries",
		metric.WithDescription("Backend calls retried after a transient failure"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create retry counter: %v", err))
	}
}
