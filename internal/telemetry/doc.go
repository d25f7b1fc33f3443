// Package telemetry sets up the OpenTelemetry trace and meter providers that
// qaflow's components record into.
//
// The orchestration packages take their tracer and meter from the otel
// globals, so New installs its providers globally when telemetry is enabled.
// With telemetry disabled they stay no-ops.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Export failures never stop the process. A provider that cannot be built
// leaves the instance degraded, and Health reports why.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
