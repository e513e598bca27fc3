package rtmp

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssungk/rtmpc/pkg/amf"
)

// Flex messaging class names
const (
	CommandMessageClass     = "flex.messaging.messages.CommandMessage"
	AcknowledgeMessageClass = "flex.messaging.messages.AcknowledgeMessage"
	AsyncMessageClass       = "flex.messaging.messages.AsyncMessage"
	ErrorMessageClass       = "flex.messaging.messages.ErrorMessage"
	RemotingMessageClass    = "flex.messaging.messages.RemotingMessage"
)

// CommandMessage operations
const (
	OperationSubscribe   = 0
	OperationUnsubscribe = 1
	OperationClientPing  = 5
	OperationLogin       = 8
	OperationLogout      = 9
)

// Flex message headers
const (
	HeaderEndpoint = "DSEndpoint"
	HeaderClientID = "DSId"
	HeaderSubtopic = "DSSubtopic"
)

// CommandMessage controls subscriptions and sessions on a Flex destination
type CommandMessage struct {
	Body          any     `amf:"body"`
	ClientID      any     `amf:"clientId"`
	CorrelationID string  `amf:"correlationId"`
	Destination   string  `amf:"destination"`
	Headers       any     `amf:"headers"`
	MessageID     string  `amf:"messageId"`
	Operation     int     `amf:"operation"`
	Timestamp     float64 `amf:"timestamp"`
	TimeToLive    float64 `amf:"timeToLive"`
}

// AcknowledgeMessage is the successful reply to a Flex message
type AcknowledgeMessage struct {
	Body          any     `amf:"body"`
	ClientID      any     `amf:"clientId"`
	CorrelationID string  `amf:"correlationId"`
	Destination   string  `amf:"destination"`
	Headers       any     `amf:"headers"`
	MessageID     string  `amf:"messageId"`
	Timestamp     float64 `amf:"timestamp"`
	TimeToLive    float64 `amf:"timeToLive"`
}

// AsyncMessage is pushed to subscribers of a destination
type AsyncMessage struct {
	Body          any     `amf:"body"`
	ClientID      any     `amf:"clientId"`
	CorrelationID string  `amf:"correlationId"`
	Destination   string  `amf:"destination"`
	Headers       any     `amf:"headers"`
	MessageID     string  `amf:"messageId"`
	Timestamp     float64 `amf:"timestamp"`
	TimeToLive    float64 `amf:"timeToLive"`
}

// ErrorMessage is the failure reply to a Flex message
type ErrorMessage struct {
	Body          any     `amf:"body"`
	ClientID      any     `amf:"clientId"`
	CorrelationID string  `amf:"correlationId"`
	Destination   string  `amf:"destination"`
	Headers       any     `amf:"headers"`
	MessageID     string  `amf:"messageId"`
	Timestamp     float64 `amf:"timestamp"`
	TimeToLive    float64 `amf:"timeToLive"`
	FaultCode     string  `amf:"faultCode"`
	FaultString   string  `amf:"faultString"`
	FaultDetail   string  `amf:"faultDetail"`
	RootCause     any     `amf:"rootCause"`
	ExtendedData  any     `amf:"extendedData"`
}

// RemotingMessage invokes a method on a remoting destination
type RemotingMessage struct {
	Body          any     `amf:"body"`
	ClientID      any     `amf:"clientId"`
	CorrelationID string  `amf:"correlationId"`
	Destination   string  `amf:"destination"`
	Headers       any     `amf:"headers"`
	MessageID     string  `amf:"messageId"`
	Operation     string  `amf:"operation"`
	Source        string  `amf:"source"`
	Timestamp     float64 `amf:"timestamp"`
	TimeToLive    float64 `amf:"timeToLive"`
}

// NewFlexRegistry returns a registry with the Flex message types registered
func NewFlexRegistry() *amf.Registry {
	r := amf.NewRegistry()
	r.MustRegister(CommandMessageClass, (*CommandMessage)(nil))
	r.MustRegister(AcknowledgeMessageClass, (*AcknowledgeMessage)(nil))
	r.MustRegister(AsyncMessageClass, (*AsyncMessage)(nil))
	r.MustRegister(ErrorMessageClass, (*ErrorMessage)(nil))
	r.MustRegister(RemotingMessageClass, (*RemotingMessage)(nil))
	r.MustRegister(AcknowledgeMessageExtClass, (*AcknowledgeMessageExt)(nil))
	r.MustRegister(AsyncMessageExtClass, (*AsyncMessageExt)(nil))
	r.MustRegister(CommandMessageExtClass, (*CommandMessageExt)(nil))
	return r
}

// newMessageID returns an upper-case UUID as Flex clients send them
func newMessageID() string {
	return strings.ToUpper(uuid.NewString())
}

// headerString reads a string header from a decoded headers value
func headerString(headers any, key string) string {
	switch h := headers.(type) {
	case *amf.Object:
		return h.GetString(key)
	case amf.ECMAArray:
		s, _ := h[key].(string)
		return s
	case map[string]any:
		s, _ := h[key].(string)
		return s
	}
	return ""
}

// clientIDString converts a clientId member, which may be null
func clientIDString(v any) string {
	s, _ := v.(string)
	return s
}

// ClientID returns the Flex client id assigned by the server
func (c *Conn) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Conn) setClientID(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.clientID = id
	c.mu.Unlock()
}

// flexHeaders builds the headers object sent with Flex messages
func (c *Conn) flexHeaders(endpoint string) *amf.Object {
	headers := amf.NewObject()
	if endpoint != "" {
		headers.Set(HeaderEndpoint, endpoint)
	}
	if id := c.ClientID(); id != "" {
		headers.Set(HeaderClientID, id)
	}
	return headers
}

func (c *Conn) newCommandMessage(operation int, destination string, headers *amf.Object) *CommandMessage {
	var clientID any
	if id := c.ClientID(); id != "" {
		clientID = id
	}
	return &CommandMessage{
		Body:        amf.NewObject(),
		ClientID:    clientID,
		Destination: destination,
		Headers:     headers,
		MessageID:   newMessageID(),
		Operation:   operation,
		Timestamp:   float64(time.Now().UnixMilli()),
	}
}

// InvokeFlex sends a Flex message as an invoke without a method name and
// returns the body of the acknowledgement
func (c *Conn) InvokeFlex(ctx context.Context, message any) (any, error) {
	result, err := c.Invoke(ctx, "", message)
	if err != nil {
		return nil, err
	}
	ack, ok := expandCompact(result).(*AcknowledgeMessage)
	if !ok {
		return result, nil
	}
	if id := headerString(ack.Headers, HeaderClientID); id != "" {
		c.setClientID(id)
	} else {
		c.setClientID(clientIDString(ack.ClientID))
	}
	return ack.Body, nil
}

// Subscribe subscribes to a messaging destination. Pushed messages arrive
// through OnMessage.
func (c *Conn) Subscribe(ctx context.Context, endpoint, destination, subtopic string) error {
	headers := c.flexHeaders(endpoint)
	if subtopic != "" {
		headers.Set(HeaderSubtopic, subtopic)
	}
	_, err := c.InvokeFlex(ctx, c.newCommandMessage(OperationSubscribe, destination, headers))
	return err
}

// Unsubscribe cancels a subscription made with Subscribe
func (c *Conn) Unsubscribe(ctx context.Context, endpoint, destination, subtopic string) error {
	headers := c.flexHeaders(endpoint)
	if subtopic != "" {
		headers.Set(HeaderSubtopic, subtopic)
	}
	_, err := c.InvokeFlex(ctx, c.newCommandMessage(OperationUnsubscribe, destination, headers))
	return err
}

// Login authenticates the Flex session with base64 "username:password"
// credentials and returns the server's reply body
func (c *Conn) Login(ctx context.Context, username, password string) (any, error) {
	msg := c.newCommandMessage(OperationLogin, "", c.flexHeaders(""))
	msg.Body = base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return c.InvokeFlex(ctx, msg)
}

// Logout ends the Flex session
func (c *Conn) Logout(ctx context.Context) error {
	_, err := c.InvokeFlex(ctx, c.newCommandMessage(OperationLogout, "", c.flexHeaders("")))
	return err
}

// Ping sends a Flex client ping
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.InvokeFlex(ctx, c.newCommandMessage(OperationClientPing, "", c.flexHeaders("")))
	return err
}

// InvokeRemote calls method on a remoting destination
func (c *Conn) InvokeRemote(ctx context.Context, endpoint, destination, method string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	var clientID any
	if id := c.ClientID(); id != "" {
		clientID = id
	}
	msg := &RemotingMessage{
		Body:        args,
		ClientID:    clientID,
		Destination: destination,
		Headers:     c.flexHeaders(endpoint),
		MessageID:   newMessageID(),
		Operation:   method,
		Timestamp:   float64(time.Now().UnixMilli()),
	}
	return c.InvokeFlex(ctx, msg)
}

// messageEvent converts a pushed message into an event
func messageEvent(v any) (MessageEvent, error) {
	switch m := expandCompact(v).(type) {
	case *AsyncMessage:
		return MessageEvent{
			ClientID: clientIDString(m.ClientID),
			Subtopic: headerString(m.Headers, HeaderSubtopic),
			Body:     m.Body,
		}, nil
	case *amf.Object:
		headers, _ := m.Get("headers")
		clientID, _ := m.Get("clientId")
		body, _ := m.Get("body")
		return MessageEvent{
			ClientID: clientIDString(clientID),
			Subtopic: headerString(headers, HeaderSubtopic),
			Body:     body,
		}, nil
	}
	return MessageEvent{}, fmt.Errorf("unexpected pushed message %T", v)
}
