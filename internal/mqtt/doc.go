// Package mqtt publishes ledger change events to an MQTT broker so
// dashboards and home automation can react to new expenses.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained "online" status; a will message
// flips the status to "offline" on unexpected disconnects. Events are
// queued by [Publisher.LedgerChanged] and published from a single
// goroutine, so a slow or absent broker never delays a tool call.
package mqtt
