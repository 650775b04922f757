// Package metrics defines the sinks that record dispatch and tracking
// activity for observability. Sinks like PromSink and InfluxSink implement
// MetricsSink plus any of the optional recorder interfaces; NewMultiSink
// fans out to several of them. The factory helpers build sinks from
// configuration and return a MultiSink when more than one is configured.
package metrics
