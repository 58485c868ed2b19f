package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/dmitrijs2005/artistdir/internal/server/services"

// newCounter registers a counter on the global meter provider. Instruments
// are created once per service, so whichever provider is installed at
// construction time receives the measurements.
func newCounter(name, description string) metric.Int64Counter {
	c, err := otel.Meter(meterName).Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
