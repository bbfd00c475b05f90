// Package eventmap provides code generation for wiring domain event structs
// into an es/serializer.Registry.
//
// Events are organized by directory, where the directory name determines
// the event's schema version (v1, v2, ...), similar to protobuf package
// versioning. Version 1 registers under the event's bare type name; later
// versions register under "TypeName.vN" so a stream can carry more than one
// schema generation of the same event side by side.
//
// The generated code is explicit and does not use runtime reflection beyond
// what the registry itself already does to decode payloads.
package eventmap
