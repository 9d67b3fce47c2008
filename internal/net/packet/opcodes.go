package packet

// Protocol version announced in C_HELLO. Viewers speaking another version
// are disconnected.
const ProtocolVersion int32 = 1

// Client → server opcodes.
const (
	C_OPCODE_HELLO  byte = 0x01 // [D version][S viewer name]
	C_OPCODE_PING   byte = 0x02 // [Q nonce]
	C_OPCODE_STRIDE byte = 0x03 // [H frames per submission, >= 1]
)

// Server → client opcodes.
const (
	S_OPCODE_ALLOCATE byte = 0x81 // [DU instance count][C transform format]
	S_OPCODE_FRAME    byte = 0x82 // [Q seq][DU instance count][F current...][F previous...]
	S_OPCODE_PONG     byte = 0x83 // [Q nonce]
	S_OPCODE_BYE      byte = 0x84 // [S reason]
)
