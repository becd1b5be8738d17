/*
Package registry is the single source of truth for "which slaves exist."
It is deliberately dumb: it knows nothing about launch sequences, timers, or
fault attribution. The supervisor and fault manager both hold a reference
to one Registry and mutate the records it returns; the registry's only
jobs are indexing, the find_available selection policy, and reference
counted destruction.

# Ordering matters

FindAvailable walks slaves in insertion (registration) order, not by any
notion of "best fit" — the first slave satisfying every clause wins. This
is intentional: it makes reuse decisions deterministic and easy to reason
about under the single-threaded model, at the cost of not being
load-balancing-aware.
*/
package registry
