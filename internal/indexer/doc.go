// Package indexer coordinates incremental indexing runs.
//
// A run walks a Source, diffs every file against the collection's file
// ledger by content hash, chunks what changed, stores chunks under the
// content-hash dedup law, embeds each file's chunks in batches, and
// finally tombstones ledger entries whose files disappeared. Stored
// chunks are invisible to search until their vectors commit, and a
// file's ledger entry is written right after its last batch lands, so
// an interrupted or partially failed run leaves the ledger holding
// exactly the fully committed files and the next run picks up the rest.
// A file whose embedding batch fails is reported in the run's errors and
// retried on the next run.
//
// Runs are exclusive per collection: a second Index call on a collection
// that is already being indexed fails immediately with
// types.ErrIndexingInProgress instead of queueing. Progress is observable
// at any time through Status.
package indexer
