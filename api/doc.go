/*
Package api defines the public contracts of the logstream core: the write path
and recovery machinery of a partitioned, replicated append-only log.

# Collaborators

The core needs three things from the outside world:

  - LogStorage: a place to append raw blocks of entries by position and to
    scan them back in position order. A file based implementation lives in
    `github.com/shrtyk/logstream-core/pkg/storage`.

  - ReplicationClient / SnapshotChunkClient: a byte oriented transport keyed by
    member id. The default gRPC implementation lives in
    `github.com/shrtyk/logstream-core/pkg/transport`.

  - A directory the snapshot store owns exclusively (Config.Partition.DataDir).

# Broker

Broker is the entry point that assembles storage, admission control,
replication and snapshots for one partition and starts them in order.
*/
package api
