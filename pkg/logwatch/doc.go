/*
Package logwatch is the reference crash-log discovery path: an fsnotify
watcher on SLAVE_LOG_PATH producing CrashLogEvent values, plus a
FileLogReader implementing the fault manager's LogReader collaborator
against real files.
*/
package logwatch
