// Package metrics records build and proxy metrics behind a Recorder interface.
//
// Components take a Recorder and default to NoopRecorder, so metrics never
// require nil checks at call sites. PrometheusRecorder registers collectors on
// a caller-owned registry; the proxy serves that registry over HTTP and the
// one-shot build job pushes it to a Pushgateway before exiting.
package metrics
