package transport

import (
	"errors"
	"fmt"

	"github.com/shrtyk/logstream-core/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// SetupConnections creates a client connection per member. Connections are
// established lazily by gRPC on first use.
func SetupConnections(
	members []api.MemberCfg, opts ...grpc.DialOption,
) (map[api.MemberID]*grpc.ClientConn, func() error, error) {
	var err error
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	conns := make(map[api.MemberID]*grpc.ClientConn, len(members))
	closeAll := func() error {
		var cferr error
		for id, conn := range conns {
			if cerr := conn.Close(); cerr != nil {
				cferr = errors.Join(cferr, fmt.Errorf("failed to close member %s connection: %w", id, cerr))
			}
		}
		return cferr
	}

	for _, m := range members {
		conn, clientError := grpc.NewClient(m.Addr, opts...)
		if clientError != nil {
			err = errors.Join(fmt.Errorf("member %s: %w", m.ID, clientError), closeAll())
			return nil, nil, err
		}
		conns[m.ID] = conn
	}

	return conns, closeAll, nil
}
