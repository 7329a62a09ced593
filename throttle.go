package imageserver

import (
	"sync"
	"time"

	"github.com/benpate/derp"
	"github.com/maypok86/otter"
)

// AuthThrottle counts failed upload credentials per client, and locks a client
// out once it reaches the limit.  Each new failure restarts the lockout window.
// The counts are advisory, per-process state: losing them (restart, another
// worker process) only resets the lockout.
type AuthThrottle struct {
	failures    otter.Cache[string, int]
	maxFailures int
	mutex       sync.Mutex // serializes read-modify-write of a failure count
}

// NewAuthThrottle returns an AuthThrottle.  A zero maxFailures disables throttling.
func NewAuthThrottle(maxFailures int, lockout time.Duration, capacity int) (*AuthThrottle, error) {

	const location = "imageserver.NewAuthThrottle"

	if maxFailures <= 0 {
		return &AuthThrottle{}, nil
	}

	builder, err := otter.NewBuilder[string, int](capacity)

	if err != nil {
		return nil, derp.Wrap(err, location, "Unable to create Otter cache builder")
	}

	failures, err := builder.WithTTL(lockout).Build()

	if err != nil {
		return nil, derp.Wrap(err, location, "Unable to build Otter cache")
	}

	return &AuthThrottle{
		failures:    failures,
		maxFailures: maxFailures,
	}, nil
}

// Allow returns ErrTooManyAttempts if this client is currently locked out.
func (throttle *AuthThrottle) Allow(client string) error {

	if throttle.maxFailures == 0 {
		return nil
	}

	if count, ok := throttle.failures.Get(client); ok && count >= throttle.maxFailures {
		return newError(KindTooManyAttempts, "imageserver.AuthThrottle.Allow", "Too many failed attempts", nil)
	}

	return nil
}

// Fail records one failed attempt for this client.
func (throttle *AuthThrottle) Fail(client string) {

	if throttle.maxFailures == 0 {
		return
	}

	throttle.mutex.Lock()
	defer throttle.mutex.Unlock()

	count, _ := throttle.failures.Get(client)
	throttle.failures.Set(client, count+1)
}

// Succeed forgets previous failures for this client.
func (throttle *AuthThrottle) Succeed(client string) {

	if throttle.maxFailures == 0 {
		return
	}

	throttle.mutex.Lock()
	defer throttle.mutex.Unlock()

	throttle.failures.Delete(client)
}

// Close releases the background resources of the underlying cache.
func (throttle *AuthThrottle) Close() {

	if throttle.maxFailures == 0 {
		return
	}

	throttle.failures.Close()
}
