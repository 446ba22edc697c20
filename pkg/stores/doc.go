// Package stores provides the run ledger: a SQLite database under the
// state directory recording every run, its event timeline and the reports
// it produced. The ledger lives apart from the cache and output trees so
// that writing it never disturbs a cancelled run's guarantees.
package stores
