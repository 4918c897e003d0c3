// Package embedder turns texts into fixed-dimension dense vectors through
// a pluggable provider port.
//
// Three providers are registered: null (deterministic hash-derived
// vectors), local (small-model stand-in built on token hash vectors), and
// openai (remote OpenAI-compatible HTTP). Providers are constructed
// through a name-keyed factory registry populated at init; the active
// provider is held behind a swappable Handle so it can be replaced at
// runtime without restarting callers.
//
// Remote calls retry transient failures (network, 5xx, 429) with capped
// exponential backoff at the batch boundary; permanent failures surface
// immediately. Every provider guarantees one vector per input, in input
// order, with constant dimension for the provider's lifetime.
package embedder
