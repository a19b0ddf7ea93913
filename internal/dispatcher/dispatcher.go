// Package dispatcher defines the delivery capability consumed by the
// scheduler. Concrete channels (mail gateway, SMS provider, chat
// relay) live outside this service; the webhook adapter in this
// package forwards to them over HTTP.
package dispatcher

import (
	"context"

	"github.com/djlord-it/stepflow/internal/domain"
)

// Request is a single delivery to perform. The scheduler attempts each
// step exactly once; retry and failover policy belong to the channel
// services, not here.
type Request struct {
	StepID    string
	Channel   domain.Channel
	Recipient string
	Subject   string
	Body      string
}

// Result reports the outcome of one delivery attempt. A nil Error with
// a Reference means the channel accepted the content.
type Result struct {
	Reference string
	Error     error
}

func (r Result) Success() bool {
	return r.Error == nil
}

// Dispatcher transmits rendered content to an external channel.
type Dispatcher interface {
	Send(ctx context.Context, req Request) Result
}
