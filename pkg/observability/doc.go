/*
Package observability exposes the activity of a sessions.Collection as
Prometheus metrics.

Metrics are fed by domain.LifecycleHooks, so the engine itself stays free of
any metrics dependency:

	m := observability.NewMetrics(prometheus.NewRegistry())
	coll := sessions.New(store, sessions.WithHooks(m.Hooks()))
*/
package observability
