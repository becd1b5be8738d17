/*
Package fault turns a raw process exit into "which package did this."

Three sources are consulted in order, each more speculative than the last:

 1. The crash-log breadcrumb a slave writes before it dies (when it gets the
    chance). This is authoritative: a match clears every shadow call
    record belonging to that slave, on the theory that the slave told us
    the truth and whatever the call stack still thinks is outstanding for
    it is stale. Other slaves' records are left in place.
 2. Secured slaves host exactly one package at a time, so if the slave is
    secured and has one package loaded, there is only one possible culprit.
 3. Otherwise, the shadow call stack: the most recently entered, not yet
    returned call for this slave is presumed to be where it died. Earlier
    outstanding calls for the same slave are not wrong, just stale noise —
    each is logged at debug level as a "false log" and then dropped.

If none of the three produce an answer (the slave died before logging
anything, wasn't secured, and had no outstanding call), that is reported as
a normal, best-effort miss rather than an error.
*/
package fault
