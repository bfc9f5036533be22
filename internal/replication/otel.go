package replication

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/modsync/vehicle/internal/replication"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
