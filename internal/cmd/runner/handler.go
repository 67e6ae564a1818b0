package runner

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"connectrpc.com/otelconnect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otterscale/connevict/internal/core"
	opshttp "github.com/otterscale/connevict/internal/transport/http"
)

// servicePrefix prefixes the evictor name to form its health service.
const servicePrefix = "connevict.v1."

// Handler mounts the operations endpoints: gRPC health and reflection,
// and Prometheus metrics.
type Handler struct {
	sweepers Sweepers
	gatherer prometheus.Gatherer
}

func NewHandler(sweepers Sweepers) *Handler {
	return newHandler(sweepers, prometheus.DefaultGatherer)
}

func newHandler(sweepers Sweepers, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		sweepers: sweepers,
		gatherer: gatherer,
	}
}

// Mount registers all handlers and observability tools to the mux.
func (h *Handler) Mount(mux *http.ServeMux) error {
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return err
	}
	interceptors := connect.WithInterceptors(otelInterceptor)

	// gRPC Reflection
	reflector := grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName)
	mux.Handle(grpcreflect.NewHandlerV1(reflector, interceptors))
	mux.Handle(grpcreflect.NewHandlerV1Alpha(reflector, interceptors))

	// gRPC Health Check
	mux.Handle(grpchealth.NewHandler(&checker{sweepers: h.sweepers}, interceptors))

	// Prometheus Metrics
	mux.Handle(opshttp.MetricsPath, promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	return nil
}

// checker reports SERVING for an evictor while its loop runs. The
// empty service name stands for the whole process and is SERVING only
// while every evictor runs.
type checker struct {
	sweepers Sweepers
}

func (c *checker) Check(_ context.Context, req *grpchealth.CheckRequest) (*grpchealth.CheckResponse, error) {
	if req.Service == "" {
		for _, e := range c.sweepers {
			if e.State() != core.StateRunning {
				return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
			}
		}
		return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
	}

	for _, e := range c.sweepers {
		if servicePrefix+e.Name() != req.Service {
			continue
		}
		if e.State() == core.StateRunning {
			return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
		}
		return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
	}

	return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown service %q", req.Service))
}
