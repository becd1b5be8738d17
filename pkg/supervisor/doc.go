/*
Package supervisor drives the state machine described by the core's state
diagram:

	Terminated --launch--> RequestedLaunch --hello--> Resumed
	                     |                          |
	                     +--activate_timeout--------+
	                                                +--pause_req--> RequestedPause --ack--> Paused
	                                                +--resume_req--> RequestedResume --ack--> Resumed
	                                                +--ttl_expiry----+
	                                                +--no_instances--+
	                                                +--exit_notice---+
	                                                +--fault---------+--> RequestedTerminate --exit_notice--> Terminated

Every transition that ends in RequestedTerminate is asynchronous: it sends
a terminate signal and waits for HandleExitNotice, the single path by
which a record holding a pid actually reaches Terminated. The exception is
a record that holds no pid (for example a launch attempt that never
obtained one): there is nothing to wait for, so it completes immediately.

# What this package does not own

The Engine holds a Launcher and a Transport but never constructs a
process or a socket itself; those are external collaborators (see
pkg/launcher and pkg/transport for reference adapters). It also does not
run its own goroutine: callers drive it from whatever single dispatch
loop assembles the daemon (see pkg/daemon).
*/
package supervisor
