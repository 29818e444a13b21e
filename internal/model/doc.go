// Package model defines the dashboard data types shared across the service.
//
// Conventions:
//   - Topic payloads are plain structs with camelCase JSON tags matching
//     the upstream aggregation service's wire format
//   - DashboardState is immutable once published: producers build a new
//     value and replace the pointer, consumers never mutate
package model
