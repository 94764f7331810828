package status

import "go.opentelemetry.io/otel"

const scopeName = "github.com/koscakluka/ema-tales/core/status"

var tracer = otel.Tracer(scopeName)
