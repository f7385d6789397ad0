/*
Package codec serializes persisted objects and the small provenance record
attached to every write.

Codec is deliberately narrow: Marshal/Unmarshal only, so both record-style
Go structs (via JSON) and protobuf-style messages (via the generated
proto.Message implementation) can sit behind the same interface and let
pkg/registry pick whichever fits a given class.
*/
package codec
