package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-tales/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	turnCounter, _ = meter.Int64Counter("ema_tales.turns",
		metric.WithDescription("Finished turns by outcome"),
		metric.WithUnit("{turn}"))
	fragmentCounter, _ = meter.Int64Counter("ema_tales.fragments.drained",
		metric.WithDescription("Reply fragments handed to the display"),
		metric.WithUnit("{fragment}"))
)
