package authority

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/modsync/vehicle/internal/authority"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
