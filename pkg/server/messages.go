package server

import "encoding/json"

// inboundMessage is the JSON envelope for messages arriving from the
// client. Fields are populated per message type.
type inboundMessage struct {
	Type string `json:"type"`

	// connect / reconnect
	CircuitID  string          `json:"circuitId,omitempty"`
	Secret     string          `json:"secret,omitempty"`
	Components []componentSpec `json:"components,omitempty"`

	// beginInvoke / endInvoke / byteArray
	CallID    uint64          `json:"callId,omitempty"`
	Target    string          `json:"target,omitempty"`
	Method    string          `json:"method,omitempty"`
	ObjectID  uint64          `json:"objectId,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Succeeded bool            `json:"succeeded,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// streamChunk / byteArray
	StreamID uint64 `json:"streamId,omitempty"`
	ChunkID  uint64 `json:"chunkId,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`

	// renderCompleted
	RenderID uint64 `json:"renderId,omitempty"`

	// locationChanged
	URI         string `json:"uri,omitempty"`
	Intercepted bool   `json:"intercepted,omitempty"`
}

// componentSpec describes a root component in the connect handshake.
type componentSpec struct {
	Type     string          `json:"type"`
	Params   json.RawMessage `json:"params,omitempty"`
	Sequence int             `json:"sequence"`
}

// connectedReply acknowledges a successful connect or reconnect.
type connectedReply struct {
	Type      string `json:"type"`
	CircuitID string `json:"circuitId"`
	Secret    string `json:"secret,omitempty"`
}

// streamAck tells the client whether to keep sending chunks.
type streamAck struct {
	Type     string `json:"type"`
	StreamID uint64 `json:"streamId"`
	Continue bool   `json:"continue"`
}
