// Package core is the batch ingestion and lineage engine.
//
// It is independent of any transport. The CLI, the HTTP surface and the
// tests all drive it through [Service] and the step handlers in the
// pipeline package.
//
// # Flow
//
// One batch is processed synchronously, one file at a time:
//
//  1. [DiscoverFiles] lists the tabular files in the source's incoming
//     directory. Other files are skipped and never logged.
//  2. [LineageStore.RegisterBatch] writes the batch and one pending
//     lineage row per file in a single transaction. A reused batch id
//     fails here, before any file is touched.
//  3. [Engine.IngestFile] resolves the file through the [Dictionary],
//     reads it as text, applies the rename plan, lets the [SchemaGuard]
//     widen the raw table and appends. Every failure comes back as a
//     [FileOutcome]; nothing escapes the file boundary.
//  4. Each outcome closes its lineage row, and [LineageStore.FinalizeBatch]
//     derives the batch status with [AggregateStatus]. Finalization always
//     runs.
//  5. Optionally, the [Promoter] rebuilds typed staging tables from the
//     raw tables the batch touched.
//
// Every write is its own short transaction, so partial progress stays
// durable and inspectable.
//
// # Source-type partitioning
//
// The mapping dictionary is partitioned by normalized source type and
// [Dictionary.Resolve] never looks outside the requested partition. A file
// that would match under another source type is unresolved, not borrowed.
//
// # Error codes
//
// Per-file errors are stored as "[CODE] message: detail"; see [MapError]
// for the code list.
//
//   - MAP001-MAP003: mapping resolution
//   - FILE001-FILE006: reading and parsing
//   - SCH001-SCH002: schema evolution and identifiers
//   - DB001-DB006: database writes
//   - BAT001-BAT005: batch lifecycle
//   - REQ001: malformed requests
package core
