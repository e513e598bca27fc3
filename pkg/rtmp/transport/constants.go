package transport

// Protocol constants
const (
	RTMPVersion                = 3
	HandshakeSize              = 1536
	DefaultChunkSize           = 128
	MaxChunkSize               = 0xFFFFFF   // 16777215
	ChunkSizeMsgMask           = 0x7FFFFFFF // SetChunkSize message: MSB must be 0 (31-bit value)
	IOBufferSize               = 8192       // 8KB
	DefaultWindowAckSize       = 2500000
	DefaultPeerBandwidth       = 2500000
	DefaultMaxReadAllocation   = 8 << 20 // 8MB
	ExtendedTimestampThreshold = 0xFFFFFF
	MaxMessageLength           = 0xFFFFFF // 24-bit length field
)

// Message Type IDs
const (
	MsgTypeSetChunkSize     = 0x01
	MsgTypeAbort            = 0x02
	MsgTypeAcknowledgement  = 0x03
	MsgTypeUserControl      = 0x04
	MsgTypeWindowAckSize    = 0x05
	MsgTypeSetPeerBW        = 0x06
	MsgTypeAudio            = 0x08
	MsgTypeVideo            = 0x09
	MsgTypeAMF3Data         = 0x0F
	MsgTypeAMF3SharedObject = 0x10
	MsgTypeAMF3Command      = 0x11
	MsgTypeAMF0Data         = 0x12
	MsgTypeAMF0SharedObject = 0x13
	MsgTypeAMF0Command      = 0x14
	MsgTypeAggregate        = 0x16
)

// Chunk Stream IDs
const (
	ChunkStreamProtocol = 2
	ChunkStreamCommand  = 3
	ChunkStreamAudio    = 4
	ChunkStreamVideo    = 5
	ChunkStreamData     = 6
)

// User Control Event Types
const (
	UserControlStreamBegin      = 0x00
	UserControlStreamEOF        = 0x01
	UserControlStreamDry        = 0x02
	UserControlSetBufferLen     = 0x03
	UserControlStreamIsRecorded = 0x04
	UserControlPingRequest      = 0x06
	UserControlPingResponse     = 0x07
)

// Bandwidth Limit Types
const (
	LimitTypeHard    = 0
	LimitTypeSoft    = 1
	LimitTypeDynamic = 2
)

// Chunk Message Header Format Types
const (
	FmtType0 = 0 // 전체 헤더
	FmtType1 = 1 // 동일한 스트림 ID
	FmtType2 = 2 // 동일한 길이와 스트림 ID
	FmtType3 = 3 // 헤더 없음
)

// IsControl reports whether typeID is a protocol control or user control message
func IsControl(typeID uint8) bool {
	return typeID >= MsgTypeSetChunkSize && typeID <= MsgTypeSetPeerBW
}
