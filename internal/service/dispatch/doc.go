// Package dispatch implements the rate-limited, retrying batch dispatcher.
//
// A Service owns one limiter, one retry policy and one statistics aggregate.
// Recipients of a batch are processed strictly in order: the limiter is
// consulted, the transport call runs under the retry policy, statistics are
// folded in, and a fixed pacing delay separates consecutive recipients.
//
// The service layer depends only on the collaborator interfaces declared in
// interfaces.go. It never imports net/http or a provider SDK directly.
package dispatch
