package absave

import (
	"fmt"
	"strings"
)

// TokenType identifies the structural marker that ends a token.
type TokenType uint8

const (
	TokenEOF             TokenType = iota
	TokenNextItem                  // 0x01
	TokenNull                      // 0x02
	TokenStartObject               // 0x03
	TokenStartArray                // 0x04
	TokenExitLevel                 // 0x05
	TokenStartDictionary           // 0x06
)

// String returns the token type name.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNextItem:
		return "NEXT"
	case TokenNull:
		return "NULL"
	case TokenStartObject:
		return "OBJECT"
	case TokenStartArray:
		return "ARRAY"
	case TokenExitLevel:
		return "EXIT"
	case TokenStartDictionary:
		return "DICT"
	default:
		return "UNKNOWN"
	}
}

// Token is a run of literal text followed by one structural marker.
type Token struct {
	Type    TokenType
	Leading string // Unescaped literal text before the marker
	Start   int    // Offset of the first literal byte
	Pos     int    // Offset of the marker (len(input) for EOF)
}

// String returns a debug representation of the token.
func (t Token) String() string {
	if t.Leading == "" {
		return t.Type.String()
	}
	return fmt.Sprintf("%q %s", t.Leading, t.Type)
}

// Scanner splits a document into tokens. Numbers are not tokenized: the
// decoder knows when one is due and reads it with ReadNumber.
type Scanner struct {
	input []byte
	pos   int
}

// NewScanner creates a scanner over input.
func NewScanner(input []byte) *Scanner {
	return &Scanner{input: input}
}

// Pos returns the current offset.
func (s *Scanner) Pos() int {
	return s.pos
}

// AtEnd reports whether all input has been consumed.
func (s *Scanner) AtEnd() bool {
	return s.pos >= len(s.input)
}

// PeekByte returns the next raw byte without consuming it.
func (s *Scanner) PeekByte() (byte, bool) {
	if s.pos >= len(s.input) {
		return 0, false
	}
	return s.input[s.pos], true
}

// Next consumes literal text up to the next unescaped control byte and
// the control byte itself.
func (s *Scanner) Next() Token {
	tok := Token{Start: s.pos}
	var sb strings.Builder
	runStart := s.pos

	for s.pos < len(s.input) {
		c := s.input[s.pos]
		switch {
		case c == escapeByte && s.pos+1 < len(s.input):
			sb.Write(s.input[runStart:s.pos])
			sb.WriteByte(s.input[s.pos+1])
			s.pos += 2
			runStart = s.pos
		case isControl(c):
			sb.Write(s.input[runStart:s.pos])
			tok.Leading = sb.String()
			tok.Type = TokenType(c)
			tok.Pos = s.pos
			s.pos++
			return tok
		default:
			s.pos++
		}
	}

	sb.Write(s.input[runStart:s.pos])
	tok.Leading = sb.String()
	tok.Type = TokenEOF
	tok.Pos = s.pos
	return tok
}

// ReadNumber consumes one packed number and returns its significant
// little-endian bytes.
func (s *Scanner) ReadNumber() ([]byte, error) {
	le, n, err := ReadNumber(s.input[s.pos:])
	if err != nil {
		return nil, err
	}
	s.pos += n
	return le, nil
}

// Tokenize returns every token up to and including EOF. Packed numbers are
// not recognized and appear inside literal text.
func (s *Scanner) Tokenize() []Token {
	var tokens []Token
	for {
		tok := s.Next()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}
