package rabbitmq

import "time"

// Role identifies which side of the queue a client sits on. The two roles
// carry different reliability policies because their process lifecycles are
// different: producers live inside short request handlers, workers are
// long-lived consumers.
type Role string

const (
	RoleProducer Role = "producer"
	RoleWorker   Role = "worker"
)

// Policy is the per-role reliability policy. Policies are plain data so the
// same client code serves both roles.
type Policy struct {
	// MaxCommandRetries is the number of automatic retries after a failed
	// command attempt. 0 means retry without bound.
	MaxCommandRetries int
	// LazyConnect defers dialing until the first command instead of
	// connecting at construction.
	LazyConnect bool
	// SkipReadinessCheck skips the post-connect queue inspection.
	SkipReadinessCheck bool
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration
	// RetryBackoff is the delay between command attempts.
	RetryBackoff time.Duration
}

// PolicyForRole returns the reliability policy for a role.
//
// Producers fail fast: a request handler must not be held open while the
// broker reconnects, so they connect lazily and give up after one retry.
// Workers never give up: dropping a command would drop work, so they connect
// eagerly at startup and retry commands until the context is canceled.
func PolicyForRole(role Role) Policy {
	p := Policy{
		LazyConnect:        false,
		SkipReadinessCheck: true,
		ConnectTimeout:     10 * time.Second,
		CommandTimeout:     5 * time.Second,
		RetryBackoff:       250 * time.Millisecond,
	}

	switch role {
	case RoleProducer:
		p.MaxCommandRetries = 1
		p.LazyConnect = true
	case RoleWorker:
		p.MaxCommandRetries = 0 // unbounded
	}

	return p
}

// Unbounded reports whether the policy retries commands without a limit.
func (p Policy) Unbounded() bool {
	return p.MaxCommandRetries <= 0
}
