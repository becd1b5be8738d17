/*
Package launcher is the reference Launcher collaborator: it execs a
configured slave binary via os/exec rather than connecting to a
privileged process-management service. It exists to exercise the
supervisor's launch sequence end to end, not as a production process
manager.
*/
package launcher
