// Package protocol holds the messages exchanged between partition members
// and their binary encoding.
//
// Messages are encoded with the protobuf wire format (field number, wire type
// and value triplets) so they stay readable by any protobuf tooling, but they
// are plain Go structs with hand written Marshal/Unmarshal methods.
package protocol
