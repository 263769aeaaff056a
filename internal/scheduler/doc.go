// Package scheduler arms one timer per enabled reminder and drives the
// fire -> present -> recompute -> persist -> re-arm cycle.
//
// All state lives behind Service.mu: the reminder store, the timer map and a
// per-id generation counter. Each timer callback carries the generation it was
// armed with and does nothing if the counter moved on, so a disarm that
// returns is final even when the underlying timer had already fired.
package scheduler
