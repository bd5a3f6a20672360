package transport

import (
	"fmt"

	"github.com/shrtyk/logstream-core/pkg/protocol"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of replication messages.
const CodecName = "logrepl"

func init() {
	encoding.RegisterCodec(codec{})
}

// codec lets gRPC carry protocol messages without generated code.
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(protocol.Message)
	if !ok {
		return nil, fmt.Errorf("%s codec: cannot marshal %T", CodecName, v)
	}
	return m.Marshal()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(protocol.Message)
	if !ok {
		return fmt.Errorf("%s codec: cannot unmarshal into %T", CodecName, v)
	}
	return m.Unmarshal(data)
}

func (codec) Name() string {
	return CodecName
}
