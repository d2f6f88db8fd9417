// Package metrics defines the Prometheus collectors exported by the hub.
//
// Collectors are registered on an injected prometheus.Registerer so tests
// and embedded servers can use private registries.
package metrics
