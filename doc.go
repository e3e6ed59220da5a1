// Package josh evaluates filters of package [filter] against git history.
//
// [Apply] rewrites a single tree, [ApplyToCommit] materializes the filtered
// history of a commit incrementally, and [UnapplyFilter] maps a push to a
// filtered history back onto the unfiltered one. All of them run inside a
// [cache.Transaction], which memoizes results per filter and object id.
//
// The entry points used by callers are [FilterRefs], [FilterCommit] and
// [UnapplyFilter].
package josh
