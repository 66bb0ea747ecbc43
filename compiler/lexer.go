package compiler

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for assembly listings
// ---------------------------------------------------------------------------

// Lexer tokenizes assembly source. Newlines are significant: each
// instruction occupies one line.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	eof     bool // input exhausted; ch is not meaningful
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.eof = true
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipBlanksAndComments()

	pos := l.position()

	switch {
	case l.eof:
		return Token{Type: TokenEOF, Literal: "", Pos: pos}

	case l.ch == '\n':
		l.readChar()
		return Token{Type: TokenNewline, Literal: "\n", Pos: pos}

	case l.ch == '.' && isLetter(l.peekChar()):
		l.readChar()
		start := l.pos
		for isIdentChar(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenDirective, Literal: l.input[start:l.pos], Pos: pos}

	case isDigit(l.ch), (l.ch == '-' || l.ch == '+') && (isDigit(l.peekChar()) || l.peekChar() == '.'),
		l.ch == '.' && isDigit(l.peekChar()):
		return l.readNumber(pos)

	case isLetter(l.ch):
		start := l.pos
		for isIdentChar(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenIdentifier, Literal: l.input[start:l.pos], Pos: pos}

	default:
		ch := l.ch
		l.readChar()
		return Token{Type: TokenError, Literal: unexpectedChar(ch), Pos: pos}
	}
}

// skipBlanksAndComments skips spaces, tabs, carriage returns and ';'
// comments, but stops at newlines.
func (l *Lexer) skipBlanksAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == ';' {
			for l.ch != '\n' && !l.eof {
				l.readChar()
			}
			continue
		}
		break
	}
}

// readNumber reads a decimal literal with optional sign, fraction and
// exponent. Validation of the value is left to strconv.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos

	if l.ch == '-' || l.ch == '+' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	// Trailing letters make the literal invalid rather than starting a new token.
	for isIdentChar(l.ch) {
		l.readChar()
	}

	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: pos}
}

func unexpectedChar(r rune) string {
	if unicode.IsPrint(r) {
		return fmt.Sprintf("unexpected character: %c", r)
	}
	return fmt.Sprintf("unexpected character: %U", r)
}

func isLetter(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentChar(r rune) bool {
	return isLetter(r) || isDigit(r)
}

// Tokenize returns all tokens in input, ending with TokenEOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}
