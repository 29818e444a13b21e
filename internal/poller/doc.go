// Package poller drives the periodic snapshot fetch. A snapshot is fetched
// immediately on start, on a fixed refresh interval, and immediately whenever
// the reporting period changes.
package poller
