/*
Package daemon assembles the core into a supervised process: a suture
tree running the single dispatch loop, the RPC transport's HTTP accept
loop, and the reconciler's ticker as independently restartable services.
The log watcher runs its own goroutine outside the tree; the dispatch loop
drains its events.
*/
package daemon
