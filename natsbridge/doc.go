// Package natsbridge serves compile requests over NATS request/reply.
//
// The bridge queue-subscribes to a subject (compiler.execute.request by
// default) so several instances share the load. Each message carries the same
// JSON body as POST /compile and is answered on its reply subject with the
// same JSON response. Messages without a reply subject are dropped.
package natsbridge
