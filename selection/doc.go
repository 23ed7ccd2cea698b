// Package selection resolves which providers serve a request.
//
// Three strategies cover the routing patterns:
//   - PickOne: single provider by priority with a stable tie-break
//   - FanOut: every matching provider, with continue or fail-fast
//     invocation
//   - Sharded: one provider per shard key via rendezvous hashing, with
//     optional explicit key pinning
//
// Candidates are filtered by capability tags and platform before a
// strategy runs; a selection that matches nothing is a not-found error.
// Pick-one and sharded results are cached with a TTL, and registry change
// events clear a contract's cached results before the mutation returns.
package selection
