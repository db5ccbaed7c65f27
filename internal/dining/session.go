// Package dining exposes the table/tenant session context and the
// user-facing notification sink consumed by the sync and payment cores.
package dining

import (
	"strings"

	"github.com/dinehub/ordersync/internal/observability"
)

// UnknownTable is substituted when no table context is available for a
// synthesized order.
const UnknownTable = "unknown"

// Session binds the in-person ordering context to one physical table.
type Session struct {
	RestaurantID string
	TableID      string
}

// Table returns the session's table id, or UnknownTable when unset.
func (s Session) Table() string {
	if table := strings.TrimSpace(s.TableID); table != "" {
		return table
	}
	return UnknownTable
}

// SessionSource supplies the current dining session. The session is owned
// elsewhere in the application; this core only reads it.
type SessionSource interface {
	Current() Session
}

// StaticSession is a SessionSource with a fixed session, used by the runtime
// and in tests.
type StaticSession Session

// Current returns the fixed session.
func (s StaticSession) Current() Session { return Session(s) }

// Notifier surfaces user-visible success/failure messages.
type Notifier interface {
	Success(msg string)
	Failure(msg string)
}

// LogNotifier writes notifications to the shared logger. The production
// application swaps in its toast sink.
type LogNotifier struct{}

func (LogNotifier) Success(msg string) {
	observability.Log().Info("notify", observability.F("kind", "success"), observability.F("message", msg))
}

func (LogNotifier) Failure(msg string) {
	observability.Log().Info("notify", observability.F("kind", "failure"), observability.F("message", msg))
}
