// Package recorder is the engine bundled with the capture service. It
// stores every forwarded frame, unmodified, in record files under
// <root>/Records.
//
// File layout: a sequence of entries, each a 4-byte big-endian length
// followed by a msgpack payload. The first entry is a Header, every other
// entry a FrameRecord. A file is written as <name>.pwrec.inuse and renamed
// to <name>.pwrec once closed; Initialize renames leftovers from a crashed
// process.
package recorder
