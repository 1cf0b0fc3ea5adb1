// Package observability records what the memory-talk client does. Flow and
// chat events are appended to a JSON Lines log from which usage metrics and
// alerts are derived on demand; live poll and stream measurements are kept
// as Prometheus collectors; diagnostics go through a rotating zap logger.
package observability
