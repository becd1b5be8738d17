/*
Package timer schedules the one-shot and repeating callbacks the
supervisor arms for activation timeouts, relaunch backoff, and secured-slave
TTL cycling.

# Why no goroutine

Every other timer package in this codebase (see pkg/reconciler) runs its own
ticker goroutine. This one doesn't, on purpose: the supervisor's
concurrency model requires that no two goroutines ever mutate slave
records concurrently, and a
timer firing on its own goroutine while the supervisor's dispatch loop is
mid-transition would violate that. Service.Tick is meant to be called from
the same loop that also drains RPC and log-watcher events, so a firing
callback observes exactly the same "nothing else is running" guarantee
every other supervisor code path relies on.

# Freeze/thaw vs delete/re-add

Freeze/thaw exists because pausing a slave must not reset its TTL clock:
deleting and re-adding a timer would lose whatever time had already
elapsed. Freeze captures the remaining duration; thaw resumes counting
down from there.
*/
package timer
