package rtmp

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ssungk/rtmpc/pkg/amf"
)

// Compact Flex message aliases. Servers send these externalizable forms
// in place of the full classes to save bandwidth.
const (
	AcknowledgeMessageExtClass = "DSK"
	AsyncMessageExtClass       = "DSA"
	CommandMessageExtClass     = "DSC"
)

// flag bits of the compact form; a set high bit means another flag byte follows
const (
	flagHasNext = 0x80

	// first byte of the message flags
	flagBody       = 0x01
	flagClientID   = 0x02
	flagDest       = 0x04
	flagHeaders    = 0x08
	flagMessageID  = 0x10
	flagTimestamp  = 0x20
	flagTimeToLive = 0x40

	// second byte of the message flags
	flagClientIDBytes  = 0x01
	flagMessageIDBytes = 0x02

	// async flags
	flagCorrelationID      = 0x01
	flagCorrelationIDBytes = 0x02

	// command flags
	flagOperation = 0x01
)

// flexHeader is the part every compact message starts with
type flexHeader struct {
	Body        any
	ClientID    any
	Destination string
	Headers     any
	MessageID   string
	Timestamp   float64
	TimeToLive  float64
}

// AcknowledgeMessageExt is the compact form of AcknowledgeMessage
type AcknowledgeMessageExt struct {
	AcknowledgeMessage
}

// AsyncMessageExt is the compact form of AsyncMessage
type AsyncMessageExt struct {
	AsyncMessage
}

// CommandMessageExt is the compact form of CommandMessage
type CommandMessageExt struct {
	CommandMessage
}

func readFlags(d *amf.Decoder) ([]byte, error) {
	var flags []byte
	for {
		b, err := d.Reader().ReadByte()
		if err != nil {
			return nil, fmt.Errorf("compact message flags: %w", err)
		}
		flags = append(flags, b)
		if b&flagHasNext == 0 {
			return flags, nil
		}
	}
}

// skipReserved reads and drops the values of flag bits this client does not know
func skipReserved(d *amf.Decoder, flags byte, from uint) error {
	for bit := from; bit < 6; bit++ {
		if flags>>bit&1 == 0 {
			continue
		}
		if _, err := d.DecodeAMF3(); err != nil {
			return err
		}
	}
	return nil
}

func uuidString(v any) (string, error) {
	b, ok := v.([]byte)
	if !ok {
		return "", fmt.Errorf("%w: uuid bytes are %T", amf.ErrTypeMismatch, v)
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(id.String()), nil
}

func flexNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int32:
		return float64(n)
	case uint32:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func (h *flexHeader) readExternal(d *amf.Decoder) error {
	flags, err := readFlags(d)
	if err != nil {
		return err
	}
	for i, f := range flags {
		var reserved uint
		switch i {
		case 0:
			fields := []struct {
				bit byte
				set func(v any)
			}{
				{flagBody, func(v any) { h.Body = v }},
				{flagClientID, func(v any) { h.ClientID = v }},
				{flagDest, func(v any) { h.Destination, _ = v.(string) }},
				{flagHeaders, func(v any) { h.Headers = v }},
				{flagMessageID, func(v any) { h.MessageID, _ = v.(string) }},
				{flagTimestamp, func(v any) { h.Timestamp = flexNumber(v) }},
				{flagTimeToLive, func(v any) { h.TimeToLive = flexNumber(v) }},
			}
			for _, field := range fields {
				if f&field.bit == 0 {
					continue
				}
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				field.set(v)
			}
			reserved = 7
		case 1:
			if f&flagClientIDBytes != 0 {
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				if h.ClientID, err = uuidString(v); err != nil {
					return err
				}
			}
			if f&flagMessageIDBytes != 0 {
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				if h.MessageID, err = uuidString(v); err != nil {
					return err
				}
			}
			reserved = 2
		}
		if err := skipReserved(d, f, reserved); err != nil {
			return err
		}
	}
	return nil
}

func (h *flexHeader) writeExternal(e *amf.Encoder) error {
	var flags byte
	var values []any
	add := func(bit byte, ok bool, v any) {
		if ok {
			flags |= bit
			values = append(values, v)
		}
	}
	add(flagBody, h.Body != nil, h.Body)
	add(flagClientID, h.ClientID != nil, h.ClientID)
	add(flagDest, h.Destination != "", h.Destination)
	add(flagHeaders, h.Headers != nil, h.Headers)
	add(flagMessageID, h.MessageID != "", h.MessageID)
	add(flagTimestamp, h.Timestamp != 0, h.Timestamp)
	add(flagTimeToLive, h.TimeToLive != 0, h.TimeToLive)

	if err := e.Writer().WriteByte(flags); err != nil {
		return err
	}
	for _, v := range values {
		if err := e.EncodeAMF3(v); err != nil {
			return err
		}
	}
	return nil
}

// readCorrelation reads the async part and returns the correlation id
func readCorrelation(d *amf.Decoder) (string, error) {
	flags, err := readFlags(d)
	if err != nil {
		return "", err
	}
	var correlationID string
	for i, f := range flags {
		var reserved uint
		if i == 0 {
			if f&flagCorrelationID != 0 {
				v, err := d.DecodeAMF3()
				if err != nil {
					return "", err
				}
				correlationID, _ = v.(string)
			}
			if f&flagCorrelationIDBytes != 0 {
				v, err := d.DecodeAMF3()
				if err != nil {
					return "", err
				}
				if correlationID, err = uuidString(v); err != nil {
					return "", err
				}
			}
			reserved = 2
		}
		if err := skipReserved(d, f, reserved); err != nil {
			return "", err
		}
	}
	return correlationID, nil
}

func writeCorrelation(e *amf.Encoder, correlationID string) error {
	if correlationID == "" {
		return e.Writer().WriteByte(0)
	}
	if err := e.Writer().WriteByte(flagCorrelationID); err != nil {
		return err
	}
	return e.EncodeAMF3(correlationID)
}

// skipFlags reads a flag set this client assigns no meaning to
func skipFlags(d *amf.Decoder) error {
	flags, err := readFlags(d)
	if err != nil {
		return err
	}
	for _, f := range flags {
		if err := skipReserved(d, f, 0); err != nil {
			return err
		}
	}
	return nil
}

func (h *flexHeader) asyncMessage(correlationID string) AsyncMessage {
	return AsyncMessage{
		Body:          h.Body,
		ClientID:      h.ClientID,
		CorrelationID: correlationID,
		Destination:   h.Destination,
		Headers:       h.Headers,
		MessageID:     h.MessageID,
		Timestamp:     h.Timestamp,
		TimeToLive:    h.TimeToLive,
	}
}

func headerOf(m AsyncMessage) *flexHeader {
	return &flexHeader{
		Body:        m.Body,
		ClientID:    m.ClientID,
		Destination: m.Destination,
		Headers:     m.Headers,
		MessageID:   m.MessageID,
		Timestamp:   m.Timestamp,
		TimeToLive:  m.TimeToLive,
	}
}

// readAsync reads the message and async parts shared by all compact forms
func readAsync(d *amf.Decoder) (AsyncMessage, error) {
	var h flexHeader
	if err := h.readExternal(d); err != nil {
		return AsyncMessage{}, err
	}
	correlationID, err := readCorrelation(d)
	if err != nil {
		return AsyncMessage{}, err
	}
	return h.asyncMessage(correlationID), nil
}

func writeAsync(e *amf.Encoder, m AsyncMessage) error {
	if err := headerOf(m).writeExternal(e); err != nil {
		return err
	}
	return writeCorrelation(e, m.CorrelationID)
}

// ReadExternal implements amf.Externalizable
func (m *AsyncMessageExt) ReadExternal(d *amf.Decoder) error {
	async, err := readAsync(d)
	if err != nil {
		return err
	}
	m.AsyncMessage = async
	return nil
}

// WriteExternal implements amf.Externalizable
func (m *AsyncMessageExt) WriteExternal(e *amf.Encoder) error {
	return writeAsync(e, m.AsyncMessage)
}

// ReadExternal implements amf.Externalizable
func (m *AcknowledgeMessageExt) ReadExternal(d *amf.Decoder) error {
	async, err := readAsync(d)
	if err != nil {
		return err
	}
	if err := skipFlags(d); err != nil {
		return err
	}
	m.AcknowledgeMessage = AcknowledgeMessage(async)
	return nil
}

// WriteExternal implements amf.Externalizable
func (m *AcknowledgeMessageExt) WriteExternal(e *amf.Encoder) error {
	if err := writeAsync(e, AsyncMessage(m.AcknowledgeMessage)); err != nil {
		return err
	}
	return e.Writer().WriteByte(0)
}

// ReadExternal implements amf.Externalizable
func (m *CommandMessageExt) ReadExternal(d *amf.Decoder) error {
	async, err := readAsync(d)
	if err != nil {
		return err
	}
	flags, err := readFlags(d)
	if err != nil {
		return err
	}
	operation := 0
	for i, f := range flags {
		var reserved uint
		if i == 0 {
			if f&flagOperation != 0 {
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				operation = int(flexNumber(v))
			}
			reserved = 1
		}
		if err := skipReserved(d, f, reserved); err != nil {
			return err
		}
	}
	m.CommandMessage = CommandMessage{
		Body:          async.Body,
		ClientID:      async.ClientID,
		CorrelationID: async.CorrelationID,
		Destination:   async.Destination,
		Headers:       async.Headers,
		MessageID:     async.MessageID,
		Operation:     operation,
		Timestamp:     async.Timestamp,
		TimeToLive:    async.TimeToLive,
	}
	return nil
}

// WriteExternal implements amf.Externalizable
func (m *CommandMessageExt) WriteExternal(e *amf.Encoder) error {
	c := m.CommandMessage
	err := writeAsync(e, AsyncMessage{
		Body:          c.Body,
		ClientID:      c.ClientID,
		CorrelationID: c.CorrelationID,
		Destination:   c.Destination,
		Headers:       c.Headers,
		MessageID:     c.MessageID,
		Timestamp:     c.Timestamp,
		TimeToLive:    c.TimeToLive,
	})
	if err != nil {
		return err
	}
	if err := e.Writer().WriteByte(flagOperation); err != nil {
		return err
	}
	return e.EncodeAMF3(int32(c.Operation))
}

// expandCompact returns the full message behind a compact form
func expandCompact(v any) any {
	switch m := v.(type) {
	case *AcknowledgeMessageExt:
		return &m.AcknowledgeMessage
	case *AsyncMessageExt:
		return &m.AsyncMessage
	case *CommandMessageExt:
		return &m.CommandMessage
	}
	return v
}
