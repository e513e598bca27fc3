package rtmp

import (
	"fmt"

	"github.com/ssungk/rtmpc/pkg/amf"
	"github.com/ssungk/rtmpc/pkg/rtmp/transport"
)

// Command names exchanged with the server
const (
	CommandConnect      = "connect"
	CommandResult       = "_result"
	CommandError        = "_error"
	CommandOnStatus     = "onStatus"
	CommandCreateStream = "createStream"
	CommandDeleteStream = "deleteStream"
	CommandCloseStream  = "closeStream"
	CommandPlay         = "play"
	CommandPublish      = "publish"
	CommandReceive      = "receive"
	CommandClose        = "close"
	CommandOnBWDone     = "onBWDone"
)

// Command represents an RTMP command (connect, _result, onStatus, etc.)
type Command struct {
	Name          string
	TransactionID float64
	Object        any
	Arguments     []any
}

// NewCommand creates a command with a null command object
func NewCommand(name string, txID float64, args ...any) *Command {
	return &Command{Name: name, TransactionID: txID, Arguments: args}
}

// Encode serializes the command. With useAMF3 the message type is
// MsgTypeAMF3Command: a zero byte, then the name, transaction id and command
// object in AMF0, then each argument switched to AMF3.
func (c *Command) Encode(registry amf.TypeRegistry, useAMF3 bool) ([]byte, uint8, error) {
	e := amf.NewEncoder(registry)
	typeID := uint8(transport.MsgTypeAMF0Command)
	if useAMF3 {
		typeID = transport.MsgTypeAMF3Command
		if err := e.Writer().WriteByte(0); err != nil {
			return nil, 0, err
		}
	}

	// Flex 호출은 메서드 이름 없이 null로 보냄
	var name any
	if c.Name != "" {
		name = c.Name
	}
	for _, v := range []any{name, c.TransactionID, c.Object} {
		if err := e.EncodeAMF0(v); err != nil {
			return nil, 0, fmt.Errorf("encode command %q: %w", c.Name, err)
		}
	}

	for i, arg := range c.Arguments {
		var err error
		if useAMF3 {
			err = e.EncodeAVMPlus(arg)
		} else {
			err = e.EncodeAMF0(arg)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("encode command %q argument %d: %w", c.Name, i, err)
		}
	}
	return e.Bytes(), typeID, nil
}

// DecodeCommand decodes an AMF0 or AMF3 command message. All values of one
// message share a single reference session.
func DecodeCommand(msg *transport.Message, registry amf.TypeRegistry) (*Command, error) {
	data := msg.Data()
	if msg.Type() == transport.MsgTypeAMF3Command {
		if len(data) == 0 {
			return nil, fmt.Errorf("empty AMF3 command: %w", transport.ErrMalformedProtocolData)
		}
		data = data[1:]
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty command data: %w", transport.ErrMalformedProtocolData)
	}

	d := amf.NewDecoder(data, registry)
	var values []any
	for d.Len() > 0 {
		v, err := d.DecodeAMF0()
		if err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		values = append(values, v)
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("command needs at least 2 values, got %d: %w", len(values), transport.ErrMalformedProtocolData)
	}

	cmd := &Command{}

	// 커맨드 이름 (문자열 또는 null)
	switch name := values[0].(type) {
	case string:
		cmd.Name = name
	case nil:
	default:
		return nil, fmt.Errorf("command name must be string, got %T: %w", values[0], transport.ErrMalformedProtocolData)
	}

	// 트랜잭션 ID (숫자)
	txID, ok := values[1].(float64)
	if !ok {
		return nil, fmt.Errorf("transaction ID must be number, got %T: %w", values[1], transport.ErrMalformedProtocolData)
	}
	cmd.TransactionID = txID

	if len(values) > 2 {
		cmd.Object = values[2]
	}
	if len(values) > 3 {
		cmd.Arguments = values[3:]
	}
	return cmd, nil
}

// Message wraps the encoded command in a message for streamID
func (c *Command) Message(streamID uint32, registry amf.TypeRegistry, useAMF3 bool) (*transport.Message, error) {
	data, typeID, err := c.Encode(registry, useAMF3)
	if err != nil {
		return nil, err
	}
	return transport.NewMessage(transport.NewMessageHeader(streamID, 0, typeID), data), nil
}

// firstArgument returns the first argument or nil
func (c *Command) firstArgument() any {
	if len(c.Arguments) == 0 {
		return nil
	}
	return c.Arguments[0]
}

// StatusInfo is the information object carried by onStatus and _error
type StatusInfo struct {
	Level       string
	Code        string
	Description string
	Raw         any
}

// parseStatusInfo reads level, code and description from an info object
func parseStatusInfo(v any) StatusInfo {
	info := StatusInfo{Raw: v}
	switch o := v.(type) {
	case *amf.Object:
		info.Level = o.GetString("level")
		info.Code = o.GetString("code")
		info.Description = o.GetString("description")
	case amf.ECMAArray:
		info.Level, _ = o["level"].(string)
		info.Code, _ = o["code"].(string)
		info.Description, _ = o["description"].(string)
	case map[string]any:
		info.Level, _ = o["level"].(string)
		info.Code, _ = o["code"].(string)
		info.Description, _ = o["description"].(string)
	}
	return info
}
