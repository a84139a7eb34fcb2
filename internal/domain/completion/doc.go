// Package completion turns edit-buffer changes into ghost-text suggestions.
//
// Each buffer change first tries the shared prefix cache: a cached entry that
// extends what the user typed is answered at once, with no network call and
// no debounce. Otherwise the event waits out the debounce window and gives
// up silently if a newer event for the same session arrived meanwhile. A live
// attempt gathers recent shell history, calls the remote backend, retries
// throttled calls a bounded number of times, caches every candidate and
// answers with the top one.
//
// Tuning (debounce, history count, cache switch) is read from the environment
// on every cycle so it can change while the host runs.
//
// Components:
//   - Cache: mutex-guarded prefix trie of completed commands
//   - Coordinator: debounce, cache short-circuit, retry loop
//   - HTTPClient: resty backend client with pacing and a circuit breaker
//   - History: bounded command history seeded from the shell's history file
package completion
