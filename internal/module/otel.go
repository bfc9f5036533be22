package module

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/modsync/vehicle/internal/module"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
