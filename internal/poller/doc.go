// Package poller turns upstream queue listings into reconciler snapshots.
//
// A JSONPoller reads one or more JSON pages per partition and grades the
// result: TRUSTED when every page was read, PARTIAL when only some were,
// ERROR when none were. Only TRUSTED snapshots may finalize entities, so a
// failing page can never make its occupants look absent.
//
// Field mapping is driven by configuration. Paths use gjson syntax, so
// nested values such as "patient.name" can be addressed directly.
package poller
