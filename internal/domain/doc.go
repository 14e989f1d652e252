// Package domain defines the core value types of the dispatch service.
//
// Types in this package are pure value objects with no behavior beyond
// validation and classification helpers. They are the shared language
// between the limiter, the retry policy, the orchestrator and the
// transports.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/YAML tags are allowed (they're metadata, not behavior)
//   - Classification helpers are allowed (pure functions on errors)
//   - Constants and enums belong here
package domain
