// Package api is the client for the dashboard aggregation service's REST
// surface. The service itself is an external collaborator; only the snapshot
// fetch is consumed here.
package api
