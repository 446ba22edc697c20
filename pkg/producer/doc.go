// Package producer refreshes the exported artifacts of producer
// applications before a sync.
//
// A producer is an external program (the Hashi add-on inside Anki, or a
// standalone exporter process) that writes a stats artifact the adapter
// later reads. Refreshing one is a three-part exchange:
//
//   - Locate: ping the HTTP endpoint and check it identifies itself,
//     trying the well-known fallback port when the configured one is the
//     common AnkiConnect conflict port.
//   - Trigger: ask the producer to export (HTTP GET /export, or run the
//     configured export command).
//   - Wait: block until the artifact's modification time advances past
//     the time observed before triggering, or the refresh timeout elapses.
//
// Refresher ties these together and applies the freshness policy: an
// unreachable producer is skipped when freshness is optional, tolerated
// when a recent enough artifact exists, and fatal otherwise.
package producer
