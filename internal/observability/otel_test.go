package observability

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tbourn/clinic-booking/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func enabled(name string) config.OTELConfig {
	return config.OTELConfig{Enabled: true, Insecure: true, Endpoint: "localhost:4317", ServiceName: name}
}

func TestSetupOTel_DisabledLeavesGlobals(t *testing.T) {
	preserveOTelGlobals(t)
	prevTP := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Endpoint: "ignored:4317"}, "v0")
	if err != nil || shutdown == nil {
		t.Fatalf("SetupOTel: nil shutdown or err %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if otel.GetTracerProvider() != prevTP {
		t.Fatal("disabled tracing replaced the provider")
	}
}

func TestSetupOTel_InstallsProvider(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		cfg  config.OTELConfig
	}{
		{"insecure", context.Background(), enabled("clinic-api")},
		{"tls", context.Background(), config.OTELConfig{Enabled: true, Endpoint: "otel:4317", ServiceName: "clinic-api"}},
		// exporter connects lazily, so a cancelled context is fine
		{"cancelled context", cancelled, enabled("clinic-api")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			preserveOTelGlobals(t)
			shutdown, err := SetupOTel(tc.ctx, tc.cfg, "v1.0.0")
			if err != nil {
				t.Fatalf("SetupOTel: %v", err)
			}
			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("provider = %T", otel.GetTracerProvider())
			}
			fields := otel.GetTextMapPropagator().Fields()
			for _, f := range []string{"traceparent", "baggage"} {
				if !slices.Contains(fields, f) {
					t.Errorf("propagator fields %v missing %s", fields, f)
				}
			}
			ctx, done := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer done()
			if err := shutdown(ctx); err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		})
	}
}

func TestSetupOTel_SeamErrorsKeepGlobals(t *testing.T) {
	tests := []struct {
		name      string
		breakSeam func()
	}{
		{"exporter", func() {
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("exporter down")
			}
		}},
		{"resource", func() {
			newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("bad resource")
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			preserveOTelGlobals(t)
			origExp, origRes := newOTLPExporterFn, newServiceResourceFn
			t.Cleanup(func() { newOTLPExporterFn, newServiceResourceFn = origExp, origRes })
			tc.breakSeam()

			prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
			if _, err := SetupOTel(context.Background(), enabled("clinic-api"), "v0"); err == nil {
				t.Fatal("expected error")
			}
			if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
				t.Fatal("globals changed on failure")
			}
		})
	}
}

func TestSetupOTel_ServiceNameAndVersion(t *testing.T) {
	tests := []struct {
		configured, want string
	}{
		{"", DefaultServiceName},
		{"clinic-worker", "clinic-worker"},
	}
	for _, tc := range tests {
		preserveOTelGlobals(t)
		orig := newServiceResourceFn
		var gotName, gotVersion string
		newServiceResourceFn = func(_ context.Context, name, version string) (*resource.Resource, error) {
			gotName, gotVersion = name, version
			return resource.Empty(), nil
		}

		shutdown, err := SetupOTel(context.Background(), enabled(tc.configured), "v2.3.4")
		newServiceResourceFn = orig
		if err != nil {
			t.Fatalf("SetupOTel: %v", err)
		}
		_ = shutdown(context.Background())
		if gotName != tc.want || gotVersion != "v2.3.4" {
			t.Errorf("resource(%q) got name=%q version=%q", tc.configured, gotName, gotVersion)
		}
	}
}

func TestServiceResource_ClinicAttributes(t *testing.T) {
	res, err := serviceResource(context.Background(), DefaultServiceName, "v1.4.0")
	if err != nil {
		t.Fatalf("serviceResource: %v", err)
	}
	set := res.Set()
	tests := []struct {
		key  attribute.Key
		want string
	}{
		{semconv.ServiceNameKey, "clinic-booking"},
		{semconv.ServiceVersionKey, "v1.4.0"},
		{semconv.ServiceNamespaceKey, "clinic"},
	}
	for _, tc := range tests {
		if got, ok := set.Value(tc.key); !ok || got.AsString() != tc.want {
			t.Errorf("%s = %q (present %v); want %q", tc.key, got.AsString(), ok, tc.want)
		}
	}
}

func TestTraceRatio(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 1},
		{-0.5, 1},
		{1.5, 1},
		{0.25, 0.25},
		{1, 1},
	}
	for _, tc := range tests {
		if got := traceRatio(tc.in); got != tc.want {
			t.Errorf("traceRatio(%v) = %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetupOTel_UnsetRatioSamplesBookingSpans(t *testing.T) {
	preserveOTelGlobals(t)
	cfg := enabled("clinic-api")
	cfg.SampleRatio = 0

	shutdown, err := SetupOTel(context.Background(), cfg, "v1")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	defer func() {
		// no collector is listening; only bound the flush
		ctx, done := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer done()
		_ = shutdown(ctx)
	}()

	_, span := otel.Tracer("services/BookingService").Start(context.Background(), "Book")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Fatal("booking span not sampled with the default ratio")
	}
}

func TestExporterOptions(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		opts := exporterOptions(config.OTELConfig{Endpoint: "otel:4317", Insecure: insecure})
		if len(opts) != 2 {
			t.Errorf("insecure=%v: %d options; want endpoint plus transport", insecure, len(opts))
		}
	}
}
