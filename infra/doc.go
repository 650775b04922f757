// Package infra contains technical adapters: ledger stores, push
// transports, metrics exporters and error reporting. These packages
// should depend only on the interfaces defined in the core packages.
package infra
