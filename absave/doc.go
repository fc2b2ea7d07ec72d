// Package absave implements ABSave, a compact object-graph serialization
// format.
//
// ABSave is a text/byte hybrid:
//   - Self-describing (a one-byte header selects the mode)
//   - Optionally named (member names written before values)
//   - Optionally typed (type descriptors written before objects)
//   - Compact (trimmed little-endian numbers, elided separators)
//   - Cached (repeat type descriptors replaced by 2-byte keys)
//
// # Modes
//
// The header marker selects one of four modes:
//
//	U  unnamed + typed
//	N  named   + typed
//	V  unnamed + untyped
//	M  named   + untyped
//
// An optional decimal version follows the marker. The header ends with the
// next-item byte.
//
// # Control Bytes
//
//	0x01  next item / separator
//	0x02  null
//	0x03  start object
//	0x04  start array
//	0x05  exit level
//	0x06  start dictionary
//
// Control bytes and backslashes inside literal text are escaped with a
// leading backslash. Numbers are written raw and never escaped; the decoder
// reads them by declared type.
//
// # Separators
//
// Every sibling except the first in its frame is preceded by 0x01, unless
// the previous sibling was an array, dictionary or object. The exit byte of
// that structure already delimits it.
//
// # Example
//
//	type NextClass struct{ Yoy bool }
//	type Root struct {
//	    Str    string
//	    I      int32
//	    NextCl NextClass
//	    Lst    []string
//	}
//
//	data, _ := absave.Marshal(&Root{...}, absave.DefaultSettings())
//
//	U 01 "Oh, Hello!" 01 <365> 01 <NextClass,key> 03 "F" 05 04 "FirstStr" 01 "SecondStr" 05
//
// # Error Handling
//
// Every format error is routed through the session's ErrorHandler. By
// default every kind is fatal. Suppressed kinds continue with a best-effort
// partial result and still reach the OnError callback.
package absave
