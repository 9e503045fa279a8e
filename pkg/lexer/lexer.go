// Package lexer turns ChocoPy source text into a token stream.
//
// It is a plain pull-based iterator rather than a goroutine-backed
// generator: the Design Notes call out that the source implementation's
// generator/async-pipe is an implementation detail of its host language,
// and that "a plain state-machine iterator is preferable" when there is
// no concurrency requirement to preserve (there is none — the lexer's
// output is consumed by a single, synchronous parser).
package lexer

import (
	"fmt"
	"strings"

	"github.com/chocopy-lang/chocopy/pkg/diag"
	"github.com/chocopy-lang/chocopy/pkg/token"
)

const tabWidth = 8

// Lexer produces a finite, non-restartable sequence of Tokens from a byte
// slice of ChocoPy source.
type Lexer struct {
	path string
	src  []byte
	pos  int
	line int
	col  int

	indent       []int
	pending      []token.Token
	atLineStart  bool
	parenDepth   int
	done         bool
	diags        *diag.Bag
}

// New creates a Lexer over src, reporting lexical errors into diags.
func New(path string, src []byte, diags *diag.Bag) *Lexer {
	return &Lexer{
		path:        path,
		src:         src,
		line:        1,
		col:         1,
		indent:      []int{0},
		atLineStart: true,
		diags:       diags,
	}
}

func (l *Lexer) errf(sp token.Span, format string, args ...any) {
	l.diags.Add(diag.Lexical, sp, format, args...)
}

func (l *Lexer) here() token.Span {
	return token.Span{StartLine: l.line, StartCol: l.col, EndLine: l.line, EndCol: l.col, StartOffset: l.pos, EndOffset: l.pos}
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *Lexer) advance() byte {
	c := l.src[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

// Next returns the next token in the stream. After EOF has been returned
// once, every subsequent call returns EOF again (the "recovery mode that
// yields EOF" required on unrecoverable lexical failure also funnels
// through this same terminal state).
func (l *Lexer) Next() token.Token {
	if len(l.pending) > 0 {
		t := l.pending[0]
		l.pending = l.pending[1:]
		return t
	}
	if l.done {
		return l.eofToken()
	}
	return l.scan()
}

func (l *Lexer) eofToken() token.Token {
	sp := l.here()
	return token.Token{Kind: token.EOF, Span: sp}
}

func (l *Lexer) scan() token.Token {
	if l.atLineStart && l.parenDepth == 0 {
		if t, ok := l.handleIndentation(); ok {
			return t
		}
	}
	l.skipBlankAndComments()
	if l.pos >= len(l.src) {
		return l.finish()
	}

	sp := l.here()
	c := l.peek()

	switch {
	case c == '\n':
		l.advance()
		if l.parenDepth > 0 {
			return l.scan()
		}
		l.atLineStart = true
		return token.Token{Kind: token.NEWLINE, Lexeme: "\n", Span: sp}
	case isDigit(c):
		return l.scanNumber(sp)
	case c == '"':
		return l.scanString(sp)
	case isIdentStart(c):
		return l.scanIdent(sp)
	default:
		return l.scanOperator(sp)
	}
}

// handleIndentation consumes leading whitespace of a logical line and
// synthesizes INDENT/DEDENT tokens by comparing the new column width
// against the indentation stack, per §4.A.
func (l *Lexer) handleIndentation() (token.Token, bool) {
	start := l.pos
	col := 0
	for l.pos < len(l.src) {
		c := l.peek()
		if c == ' ' {
			col++
			l.advance()
		} else if c == '\t' {
			col = ((col / tabWidth) + 1) * tabWidth
			l.advance()
		} else {
			break
		}
	}
	// Blank line or comment-only line: no INDENT/DEDENT, consume and retry.
	if l.pos >= len(l.src) || l.peek() == '\n' || l.peek() == '#' {
		l.atLineStart = false
		return token.Token{}, false
	}
	l.atLineStart = false
	cur := l.indent[len(l.indent)-1]
	sp := l.here()
	sp.StartOffset = start
	switch {
	case col > cur:
		l.indent = append(l.indent, col)
		return token.Token{Kind: token.INDENT, Span: sp}, true
	case col < cur:
		n := 0
		for len(l.indent) > 1 && l.indent[len(l.indent)-1] > col {
			l.indent = l.indent[:len(l.indent)-1]
			n++
		}
		if l.indent[len(l.indent)-1] != col {
			l.errf(sp, "unindent does not match any outer indentation level")
		}
		for i := 1; i < n; i++ {
			l.pending = append(l.pending, token.Token{Kind: token.DEDENT, Span: sp})
		}
		return token.Token{Kind: token.DEDENT, Span: sp}, true
	default:
		return token.Token{}, false
	}
}

func (l *Lexer) skipBlankAndComments() {
	for l.pos < len(l.src) {
		c := l.peek()
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.advance()
		case c == '#':
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

// finish flushes any remaining indentation levels to DEDENT, then EOF.
func (l *Lexer) finish() token.Token {
	sp := l.here()
	if len(l.indent) > 1 {
		for len(l.indent) > 1 {
			l.indent = l.indent[:len(l.indent)-1]
			l.pending = append(l.pending, token.Token{Kind: token.DEDENT, Span: sp})
		}
		t := l.pending[0]
		l.pending = l.pending[1:]
		return t
	}
	l.done = true
	return token.Token{Kind: token.EOF, Span: sp}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentCont(c byte) bool { return isIdentStart(c) || isDigit(c) }

func (l *Lexer) scanNumber(sp token.Span) token.Token {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.peek()) {
		l.advance()
	}
	lit := string(l.src[start:l.pos])
	if len(lit) > 1 && lit[0] == '0' {
		l.errf(sp, "invalid number literal %q: leading zero not allowed", lit)
	}
	var v int64
	for _, c := range lit {
		v = v*10 + int64(c-'0')
	}
	sp.EndOffset, sp.EndLine, sp.EndCol = l.pos, l.line, l.col
	return token.Token{Kind: token.IntLit, Lexeme: lit, IntVal: v, Span: sp}
}

func (l *Lexer) scanString(sp token.Span) token.Token {
	l.advance() // opening quote
	var sb strings.Builder
	closed := false
	for l.pos < len(l.src) {
		c := l.peek()
		if c == '"' {
			l.advance()
			closed = true
			break
		}
		if c == '\n' {
			break
		}
		if c >= 0x80 {
			l.errf(l.here(), "non-ASCII character in string literal")
			l.advance()
			continue
		}
		if c == '\\' {
			l.advance()
			e := l.peek()
			switch e {
			case 'n':
				sb.WriteByte('\n')
				l.advance()
			case 't':
				sb.WriteByte('\t')
				l.advance()
			case '\\':
				sb.WriteByte('\\')
				l.advance()
			case '"':
				sb.WriteByte('"')
				l.advance()
			case '\'':
				sb.WriteByte('\'')
				l.advance()
			case '0':
				sb.WriteByte(0)
				l.advance()
			default:
				l.errf(l.here(), "invalid escape sequence \\%c", e)
				if e != 0 {
					l.advance()
				}
			}
			continue
		}
		sb.WriteByte(c)
		l.advance()
	}
	if !closed {
		l.errf(sp, "unterminated string literal")
	}
	sp.EndOffset, sp.EndLine, sp.EndCol = l.pos, l.line, l.col
	return token.Token{Kind: token.StrLit, Lexeme: sb.String(), StrVal: sb.String(), Span: sp}
}

func (l *Lexer) scanIdent(sp token.Span) token.Token {
	start := l.pos
	for l.pos < len(l.src) && isIdentCont(l.peek()) {
		l.advance()
	}
	lit := string(l.src[start:l.pos])
	sp.EndOffset, sp.EndLine, sp.EndCol = l.pos, l.line, l.col
	return token.Token{Kind: token.LookupIdent(lit), Lexeme: lit, Span: sp}
}

func (l *Lexer) scanOperator(sp token.Span) token.Token {
	c := l.advance()
	mk := func(k token.Kind, lex string) token.Token {
		sp.EndOffset, sp.EndLine, sp.EndCol = l.pos, l.line, l.col
		return token.Token{Kind: k, Lexeme: lex, Span: sp}
	}
	switch c {
	case '+':
		return mk(token.Plus, "+")
	case '-':
		if l.peek() == '>' {
			l.advance()
			return mk(token.Arrow, "->")
		}
		return mk(token.Minus, "-")
	case '*':
		return mk(token.Star, "*")
	case '/':
		if l.peek() == '/' {
			l.advance()
			return mk(token.DSlash, "//")
		}
		l.errf(sp, "unexpected character %q", '/')
		return l.scan()
	case '%':
		return mk(token.Percent, "%")
	case '=':
		if l.peek() == '=' {
			l.advance()
			return mk(token.Eq, "==")
		}
		return mk(token.Assign, "=")
	case '!':
		if l.peek() == '=' {
			l.advance()
			return mk(token.NotEq, "!=")
		}
		l.errf(sp, "unexpected character %q", '!')
		return l.scan()
	case '<':
		if l.peek() == '=' {
			l.advance()
			return mk(token.LessEq, "<=")
		}
		return mk(token.Less, "<")
	case '>':
		if l.peek() == '=' {
			l.advance()
			return mk(token.GreaterEq, ">=")
		}
		return mk(token.Greater, ">")
	case '(':
		l.parenDepth++
		return mk(token.LParen, "(")
	case ')':
		if l.parenDepth > 0 {
			l.parenDepth--
		}
		return mk(token.RParen, ")")
	case '[':
		l.parenDepth++
		return mk(token.LBracket, "[")
	case ']':
		if l.parenDepth > 0 {
			l.parenDepth--
		}
		return mk(token.RBracket, "]")
	case ',':
		return mk(token.Comma, ",")
	case ':':
		return mk(token.Colon, ":")
	case '.':
		return mk(token.Dot, ".")
	default:
		l.errf(sp, "unexpected character %s", formatChar(c))
		return l.scan()
	}
}

func formatChar(c byte) string {
	if c >= 0x20 && c < 0x7f {
		return fmt.Sprintf("%q", string(c))
	}
	return fmt.Sprintf("0x%02x", c)
}
