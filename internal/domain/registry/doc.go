// Package registry coordinates the artifact store and the record database.
//
// The Service is the only writer of both. It keeps every record paired with
// exactly one application directory, publishes a change event after each
// durable mutation, and serializes mutations behind a single lock so a
// concurrent List never observes a half-applied change.
//
// Components:
//   - Service: CommitNew, Remove, List, UpdateSigningStatus and friends
//   - Sweep: startup reconciliation of directories and records
//   - Seeder: one-time default source and settings bootstrap
//
// Ordering rules:
//   - CommitNew writes the directory before the record and rolls the
//     directory back if the record cannot be written or the caller cancels.
//   - Remove deletes the record before the directory. A directory that
//     cannot be deleted is reported as PARTIAL_CLEANUP and left for Sweep.
//   - Removing an id that does not exist fails with NOT_FOUND.
//
// Example Usage:
//
//	svc := registry.NewService(repo, store, changes, registry.Options{Logger: logger})
//	rec, err := svc.CommitNew(ctx, types.Metadata{Kind: types.KindDownloaded, Name: "Foo"}, bundle)
//	records, err := svc.List(ctx, types.KindDownloaded)
package registry
