// Package reconciler owns the best-known value of one instrument.
//
// A Reconciler is a per-symbol actor. It picks streaming or polling from the
// market session, merges REST snapshots and streamed ticks into one record,
// and falls back to polling when the stream gives up. Once a value has been
// shown it is never replaced by a loading or error state.
//
// PriceReconciler and IndexReconciler are the two instantiations, for
// equities and for indices/FX respectively.
package reconciler
