package speech

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-tales/core/speech"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var interruptionCounter, _ = meter.Int64Counter("ema_tales.speech.interruptions",
	metric.WithDescription("Utterances stopped before they finished"),
	metric.WithUnit("{utterance}"))
