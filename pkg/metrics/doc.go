/*
Package metrics defines and registers the Prometheus metrics the object
store exposes: zoom_errors_total (by error class), zoom_backend_latency_seconds
(by backend event type), zoom_observable_recoveries_total (by scope),
zoom_tx_attempts_total, zoom_tx_retries_total, and zoom_backend_healthy.

All metrics are package-level variables registered at init time, in the
same MustRegister-in-init style as the rest of this dependency's callers.
Timer is a small helper for recording an elapsed duration to a histogram
or histogram vec without threading time.Now() through call sites by hand.
*/
package metrics
