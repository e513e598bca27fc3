package rtmp

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// MessageEvent is raised for messages pushed by the server through receive
type MessageEvent struct {
	ClientID string
	Subtopic string
	Body     any
}

// MediaEvent carries an opaque audio or video payload received on a stream.
// Data is only valid during the callback.
type MediaEvent struct {
	StreamID  uint32
	Type      uint8
	Timestamp uint32
	Data      []byte
}

// StatusEvent is raised for onStatus commands
type StatusEvent struct {
	StreamID uint32
	Info     StatusInfo
}

// DisconnectEvent is raised exactly once when the connection closes
type DisconnectEvent struct {
	Reason string
	Err    error
}

// CallbackError reports a panic recovered from a user callback
type CallbackError struct {
	Callback string
	Value    any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback panicked: %v", e.Callback, e.Value)
}

// safeCall runs a user callback, recovering panics so they never reach the
// reader loop
func safeCall(log *logrus.Entry, onError func(error), name string, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := &CallbackError{Callback: name, Value: r}
		log.WithField("callback", name).Warnf("recovered callback panic: %v", r)
		if onError != nil {
			// 에러 핸들러의 패닉은 로그만 남김
			defer func() {
				if r := recover(); r != nil {
					log.WithField("callback", "OnCallbackError").Warnf("recovered callback panic: %v", r)
				}
			}()
			onError(err)
		}
	}()
	fn()
}
