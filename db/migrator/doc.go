// Package migrator evolves schema and reference data across the relational
// and the document engine.
//
// Features:
//   - Named migrations and seeders with apply/rollback bodies, run against an
//     engine handle
//   - A ledger per engine and kind recording which units are currently applied
//   - Relational units run in one transaction together with their ledger write
//   - Document units run as a mutation followed by a separate ledger write, so
//     they must be idempotent
//   - A declarative four-phase pipeline, traversed forward to apply and in
//     reverse to roll back, guarded by an advisory lock
//   - Relational migrations loaded from SQL files named `{id}-{name}.{up|down}.sql`
package migrator
