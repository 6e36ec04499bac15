/*
Package metrics provides Prometheus metrics collection and exposition for
the storage backend and audit log writer.

Metrics cover three concerns: every storage operation's outcome and
latency, every HSM key derivation by purpose and kind (initial,
subsequent or lost-race), and every audit event appended by action. All are registered
at package init and exposed via Handler for scraping.

# Usage

Instrumenting a storage operation:

	timer := metrics.NewTimer()
	err := doQuery()
	metrics.ObserveStorageQuery("storage.RetrieveTask", timer, err)

Exposing the scrape endpoint:

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Storage operations get a counter + histogram pair, following the teacher's
`warren_api_requests_total`/`warren_api_request_duration_seconds` pattern:
a CounterVec for outcome counts, a HistogramVec for latency distribution,
both labeled by the operation name so a single dashboard panel can filter
per method. Key derivations and audit events are counted with a CounterVec
only.
*/
package metrics
