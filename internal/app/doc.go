// Package app composes the agency banking core into a running application.
//
// The layout under internal/app:
//
//	domain/     plain data types (identity, operation, ledger, commission, ticket)
//	storage/    Store interfaces, the Atomic unit of work, memory and postgres backends
//	services/   provisioning, operations, commissions, queue, tickets and their helpers
//	httpapi/    the /rpc/<method> JSON surface, login and the audit log
//	metrics/    prometheus collectors
//	system/     lifecycle manager for background services such as the queue reaper
//	cache/      optional redis cache for queue statistics
//
// Business rules live in services/. This package only wires them together,
// seeds catalogs and owns the start/stop lifecycle.
package app
