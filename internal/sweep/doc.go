// Package sweep completes manifested work.
//
// The Sweeper reads registered manifests and replays the moves they record:
// every listed entry is renamed from its stage directory into the completed
// directory of the manifest's category, then the manifest itself is retired
// under manifests/completed. Aggregates are resolved by path lookup across
// the manifest stage roots and are deferred while any part is still landing.
// Every step tolerates having already happened, so a crash at any point is
// recovered by the next sweep.
package sweep
