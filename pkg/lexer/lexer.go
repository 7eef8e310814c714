package lexer

import (
	"github.com/xplshn/bflift/pkg/token"
)

// Lexer yields instruction tokens from a source buffer. Runes that are not
// instructions are comments and are skipped, but still advance the position.
type Lexer struct {
	source    []rune
	fileIndex int
	pos       int
	line      int
	column    int
	skipped   int
}

func NewLexer(source []rune, fileIndex int) *Lexer {
	return &Lexer{source: source, fileIndex: fileIndex, line: 1, column: 1}
}

func (l *Lexer) Next() token.Token {
	for !l.isAtEnd() {
		startPos, startCol, startLine := l.pos, l.column, l.line
		ch := l.advance()
		if typ, ok := token.CharMap[ch]; ok {
			return l.makeToken(typ, startPos, startCol, startLine)
		}
		l.skipped++
	}
	return l.makeToken(token.EOF, l.pos, l.column, l.line)
}

// Skipped reports how many comment runes were passed over so far.
func (l *Lexer) Skipped() int { return l.skipped }

func (l *Lexer) advance() rune {
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, FileIndex: l.fileIndex,
		Offset: startPos, Line: startLine, Column: startCol,
	}
}

// Tokenize drains a lexer over source, EOF excluded.
func Tokenize(source []rune, fileIndex int) []token.Token {
	l := NewLexer(source, fileIndex)
	var toks []token.Token
	for {
		tok := l.Next()
		if tok.Type == token.EOF {
			return toks
		}
		toks = append(toks, tok)
	}
}
