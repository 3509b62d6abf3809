package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// metricTagFields are the log fields promoted to metric tags. Identifiers
// such as order ids and ICCIDs stay out to keep tag cardinality bounded.
var metricTagFields = []string{"provider", "payment_method", "fulfillment_status", "error_code"}

// Observer logs and records metrics for the named pipeline operations.
// Every log line passes through RedactSensitiveMap first.
type Observer struct {
	logger  Logger
	metrics MetricsRecorder
}

func NewObserver(logger Logger, metrics MetricsRecorder) *Observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &Observer{logger: logger, metrics: metrics}
}

// ObserveOperation emits esim.<operation>.total and
// esim.<operation>.duration_ms, then one info or error log line.
func (o *Observer) ObserveOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if o == nil {
		return
	}
	name := operationName(operation)
	elapsed := time.Since(startedAt).Milliseconds()
	status, level, verb := "success", "info", "succeeded"
	if err != nil {
		status, level, verb = "failure", "error", "failed"
	}

	entry := cloneFields(fields)
	entry["event_type"] = name
	entry["status"] = status
	entry["duration_ms"] = elapsed
	if err != nil {
		entry["error"] = err.Error()
		if code := TextCode(err); code != "" {
			entry["error_code"] = code
		}
	}

	tags := map[string]string{"operation": name, "status": status}
	for _, key := range metricTagFields {
		if value, ok := entry[key]; ok && value != nil {
			if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
				tags[key] = text
			}
		}
	}
	if o.metrics != nil {
		o.metrics.IncCounter(ctx, "esim."+name+".total", 1, cloneTags(tags))
		o.metrics.ObserveHistogram(ctx, "esim."+name+".duration_ms", float64(elapsed), cloneTags(tags))
	}
	o.Log(ctx, level, name+" "+verb, entry)
}

// Log writes one structured line. Unknown levels log at info.
func (o *Observer) Log(ctx context.Context, level string, message string, fields map[string]any) {
	if o == nil || o.logger == nil {
		return
	}
	logger := o.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	fields = RedactSensitiveMap(fields)
	if withFields, ok := logger.(FieldsLogger); ok {
		logger = withFields.WithFields(cloneFields(fields))
	}

	emit := logger.Info
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		emit = logger.Error
	case "warn":
		emit = logger.Warn
	case "debug":
		emit = logger.Debug
	}
	emit(message, keyValues(fields)...)
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	maps.Copy(copied, fields)
	return copied
}

// keyValues flattens fields into sorted key/value pairs.
func keyValues(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	return args
}

// operationName turns "Get Activation" or "get-activation" into
// get_activation.
func operationName(operation string) string {
	name := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, strings.ToLower(strings.TrimSpace(operation)))
	if name == "" {
		return "unknown"
	}
	return name
}
