// Package natsworker serves diacritization requests over NATS request/reply.
//
// Every message on the subject is one text; replies carry the diacritized
// text or an error. Messages are handled concurrently so that requests
// arriving together share a model batch.
package natsworker
