package swanling

import (
	"io"
	"net/http"
	"net/url"

	internaluser "github.com/swanling/swanling/internal/user"
)

// User is the handle a task function operates on: one simulated user's
// HTTP client (with its own cookie jar), bound to the attack's (or the
// user's task-set override) target host.
type User struct {
	handle *internaluser.Handle
}

// UserID returns this user's 0-based index within the spawned population.
func (u *User) UserID() int { return u.handle.UserID }

// BaseURL returns the host this user issues requests against.
func (u *User) BaseURL() string { return u.handle.BaseURL }

// Get issues a GET request against path and records a request metric under
// name (defaulting to path when name is empty).
func (u *User) Get(path, name string) (*http.Response, error) {
	return u.handle.Get(path, name)
}

// Post issues a form-encoded POST request against path.
func (u *User) Post(path, name string, form url.Values) (*http.Response, error) {
	return u.handle.Post(path, name, form)
}

// Send issues an arbitrary-method request with an optional raw body.
func (u *User) Send(method, path, name string, body io.Reader) (*http.Response, error) {
	return u.handle.Send(method, path, name, body)
}

// LogDebug writes one line to the attack's debug log, if one is configured.
func (u *User) LogDebug(line string) { u.handle.LogDebug(line) }

// CumulativeSleepMS returns the total time this user has spent sleeping
// between tasks, for diagnostics.
func (u *User) CumulativeSleepMS() int64 { return u.handle.CumulativeSleepMS() }
