// Package writer persists price snapshots to the history database.
//
// Reconciler views are pushed into a GrowableBuffer by the board and
// drained by SnapshotWriter, which inserts them in batches with
// ON CONFLICT DO NOTHING so replays after a restart are harmless.
// Nothing is ever updated in place.
package writer
