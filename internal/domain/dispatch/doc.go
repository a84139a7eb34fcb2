// Package dispatch fans shell hook events out to subscribed windows.
//
// Hooks are normalized into one flat Notification shape. A window subscribes
// per notification kind and names the message id its answers should carry.
// Each window has its own bounded queue drained by its own goroutine, so
// notifications for one window stay in order while a slow or failing window
// never holds up the others. A full queue drops the notification and counts
// the drop.
//
// The MetricsTracker derives usage windows per session: events less than
// five seconds apart extend the current window; a longer gap closes it and
// emits a UsageRecord.
//
// The Bus is an in-process Sink with one channel per window, used by the
// websocket bridge and by tests.
package dispatch
