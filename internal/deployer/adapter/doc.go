// Package adapter contains implementations of interfaces defined in app.
// SQLite registry, Redis, Docker Engine, and build workspace adapters
// live here.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("deployer/adapter")
