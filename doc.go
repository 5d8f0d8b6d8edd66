// Package schemacodec implements a declarative binary-payload codec engine
// for constrained IoT devices. A Schema describes how a byte string encodes
// named, typed, possibly conditional fields; the engine walks that
// description against a payload to decode a Record, and in reverse to
// encode a Record back into a payload. A companion compact binary schema
// codec serializes the schema itself for over-the-air transfer.
//
// Source-code generators, CLI surfaces, and YAML/JSON grammar ownership are
// deliberately out of scope here; this package accepts and produces an
// already-parsed tree.
package schemacodec
