// Package manifest defines manifest documents and the batcher that writes
// them.
//
// A batch document lists the entries of one category directory (uploaded,
// rejected, dropped, failed) captured at one instant. An aggregate document
// references the batch documents written in the same round by path, relative
// to the manifest stage roots, so a reference can be resolved wherever the
// referenced document currently sits. Writing a manifest records intent
// only; the completion sweeper performs the moves later.
package manifest
