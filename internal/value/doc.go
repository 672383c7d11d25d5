// Package value defines the property values stored on graphstore objects.
//
// Value is a sealed interface with exactly six implementations: Null, String,
// Int, Bool, List and Map. Floats are not representable; every decode boundary
// rejects them so that the canonical encoding of an object is deterministic.
//
// # Canonical Encoding
//
// MarshalCanonical produces RFC 8785 style JSON:
//   - object keys ordered by UTF-16 code units
//   - strings NFC normalized, no HTML escaping
//   - null is permitted and means "property cleared"
//
// The canonical form is what the SQLite store persists and what Digest hashes,
// so two equal property maps always produce byte-identical rows.
package value
