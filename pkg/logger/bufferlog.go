// Package logger implements a per-request in-memory log buffer.
//
// Detail lines are buffered while a request is being served.
//   - On failure the buffer is replayed, followed by the final error.
//   - On success the buffer is dropped and one short line is written.
//
// All state lives in a single logger goroutine fed by a command channel,
// so callers never lock.
package logger

import (
	"bytes"
	"log"
	"strings"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
	actSync
)

type cmd struct {
	act       action
	requestID string
	message   string        // Append, Success
	err       error         // FlushError
	done      chan struct{} // Sync
}

var ch = make(chan cmd, 128)

// Begin starts buffering for requestID.
func Begin(requestID string) { ch <- cmd{act: actBegin, requestID: requestID} }

// Append adds a detail line. Without an active buffer it is logged at once.
func Append(requestID, msg string) {
	ch <- cmd{act: actAppend, requestID: requestID, message: msg}
}

// Success drops the buffer and logs one summary line.
func Success(requestID, summary string) {
	ch <- cmd{act: actSuccess, requestID: requestID, message: summary}
}

// FlushError replays the buffered lines and logs err.
func FlushError(requestID string, err error) {
	ch <- cmd{act: actFlushErr, requestID: requestID, err: err}
}

// Sync blocks until every command queued before it has been written.
func Sync() {
	done := make(chan struct{})
	ch <- cmd{act: actSync, done: done}
	<-done
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.requestID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.requestID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Printf("[%s] %s", c.requestID, c.message)
			}

		case actSuccess:
			log.Printf("[%s] ok %s", c.requestID, c.message)
			delete(buffers, c.requestID)

		case actFlushErr:
			if b := buffers[c.requestID]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					if ln != "" {
						log.Printf("[%s] %s", c.requestID, ln)
					}
				}
				delete(buffers, c.requestID)
			}
			log.Printf("[%s][ERROR] %v", c.requestID, c.err)

		case actSync:
			close(c.done)
		}
	}
}
