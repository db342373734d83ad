package native

import "time"

const (
	defaultPushConstantCapacity = 256
	defaultWaitTimeout          = 5 * time.Second
)

// Option configures a native backend.
type Option func(*options)

type options struct {
	name                 string
	pushConstantCapacity int
	waitTimeout          time.Duration
}

func defaultOptions() options {
	return options{
		name:                 NameVulkan,
		pushConstantCapacity: defaultPushConstantCapacity,
		waitTimeout:          defaultWaitTimeout,
	}
}

// WithName sets the name the backend reports.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithPushConstantCapacity sets how many push constant updates one
// submission can hold. Values below 1 keep the default.
func WithPushConstantCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pushConstantCapacity = n
		}
	}
}

// WithWaitTimeout bounds how long WaitIdle and Destroy wait for one
// submission's fence. Values below 1 keep the default.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.waitTimeout = d
		}
	}
}
