/*
Package transport is the reference Transport collaborator: one
gorilla/websocket connection per slave process, JSON-framed pause/resume
requests and acks, and a fan-out fault_package broadcast. Inbound frames
never touch core state directly; they are turned into HelloEvent/AckEvent
values on channels the daemon's dispatch loop drains.
*/
package transport
