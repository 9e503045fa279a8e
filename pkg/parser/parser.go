// Package parser implements ChocoPy's recursive-descent grammar, producing
// the untyped AST defined in pkg/ast.
//
// The grammar is LL(2): the single ambiguity the spec calls out is
// between a variable declaration ("name : T = literal") and a statement
// beginning with an identifier (assignment, attribute/index assignment,
// or a bare call) — resolved below by peeking one token past a leading
// identifier for a ':'. Operator precedence is encoded as one
// parseExprN function per level, exactly the ten levels listed in §4.B.
package parser

import (
	"github.com/chocopy-lang/chocopy/pkg/ast"
	"github.com/chocopy-lang/chocopy/pkg/diag"
	"github.com/chocopy-lang/chocopy/pkg/lexer"
	"github.com/chocopy-lang/chocopy/pkg/token"
)

// Parser turns a token stream into an untyped *ast.Program.
type Parser struct {
	lex    *lexer.Lexer
	diags  *diag.Bag
	buf    []token.Token // lookahead queue, at most 2 entries
}

// Parse lexes and parses src (already decoded from a source file at
// path), returning the untyped program and accumulating any lexical or
// syntactic diagnostics into diags.
func Parse(path string, src []byte, diags *diag.Bag) *ast.Program {
	p := &Parser{lex: lexer.New(path, src, diags), diags: diags}
	return p.parseProgram()
}

// ---- token buffer ----

func (p *Parser) fill(n int) {
	for len(p.buf) < n {
		p.buf = append(p.buf, p.lex.Next())
	}
}

func (p *Parser) cur() token.Token {
	p.fill(1)
	return p.buf[0]
}

func (p *Parser) peek2() token.Token {
	p.fill(2)
	return p.buf[1]
}

func (p *Parser) advance() token.Token {
	p.fill(1)
	t := p.buf[0]
	p.buf = p.buf[1:]
	return t
}

func (p *Parser) at(k token.Kind) bool { return p.cur().Kind == k }

func (p *Parser) errf(sp token.Span, format string, args ...any) {
	p.diags.Add(diag.Syntactic, sp, format, args...)
}

// expect consumes the current token if it has kind k, else records a
// diagnostic naming the expected token and returns the zero Token.
func (p *Parser) expect(k token.Kind) token.Token {
	if p.at(k) {
		return p.advance()
	}
	p.errf(p.cur().Span, "expected %s, found %s", k, p.cur().Kind)
	return token.Token{Kind: k, Span: p.cur().Span}
}

// recover skips tokens until the next NEWLINE or DEDENT (consuming
// neither terminator itself is fine — callers resynchronize on it) so
// that parsing can continue past one error and report more (§4.B).
func (p *Parser) recover() {
	for {
		switch p.cur().Kind {
		case token.NEWLINE, token.DEDENT, token.EOF:
			return
		default:
			p.advance()
		}
	}
}

func (p *Parser) skipNewlines() {
	for p.at(token.NEWLINE) {
		p.advance()
	}
}

// ---- program ----

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	prog.Span = p.cur().Span
	p.skipNewlines()
	for p.isDeclStart() {
		prog.Defs = append(prog.Defs, p.parseDecl())
		p.skipNewlines()
	}
	for !p.at(token.EOF) {
		prog.Stmts = append(prog.Stmts, p.parseStmt())
		p.skipNewlines()
	}
	return prog
}

// isDeclStart reports whether the current position begins a declaration
// rather than a statement: `class`/`def`, or an identifier immediately
// followed by ':' (the LL(2) disambiguation point).
func (p *Parser) isDeclStart() bool {
	switch p.cur().Kind {
	case token.KwClass, token.KwDef, token.KwGlobal, token.KwNonlocal:
		return true
	case token.Ident:
		return p.peek2().Kind == token.Colon
	default:
		return false
	}
}

func (p *Parser) parseDecl() ast.Decl {
	switch p.cur().Kind {
	case token.KwClass:
		return p.parseClassDecl()
	case token.KwDef:
		return p.parseFuncDecl()
	case token.KwGlobal:
		sp := p.cur().Span
		p.advance()
		name := p.expect(token.Ident).Lexeme
		p.expect(token.NEWLINE)
		d := &ast.GlobalDecl{Name: name}
		d.Span = sp
		return d
	case token.KwNonlocal:
		sp := p.cur().Span
		p.advance()
		name := p.expect(token.Ident).Lexeme
		p.expect(token.NEWLINE)
		d := &ast.NonLocalDecl{Name: name}
		d.Span = sp
		return d
	case token.Ident:
		return p.parseVarDecl()
	default:
		sp := p.cur().Span
		p.errf(sp, "expected a declaration, found %s", p.cur().Kind)
		p.recover()
		d := &ast.GlobalDecl{Name: ""}
		d.Span = sp
		return d
	}
}

func (p *Parser) parseVarDecl() ast.Decl {
	sp := p.cur().Span
	name := p.expect(token.Ident).Lexeme
	p.expect(token.Colon)
	typ := p.parseTypeAnnotation()
	p.expect(token.Assign)
	lit := p.parseLiteralForVarDecl()
	p.expect(token.NEWLINE)
	vd := &ast.VarDecl{Name: name, Type: typ, Literal: lit}
	vd.Span = sp
	return vd
}

// parseLiteralForVarDecl parses the restricted literal grammar allowed as
// a variable's initializer (int/bool/str/None literal, or `[]`), per the
// ChocoPy requirement that declarations use a literal, not an arbitrary
// expression.
func (p *Parser) parseLiteralForVarDecl() ast.Expr {
	sp := p.cur().Span
	switch p.cur().Kind {
	case token.IntLit:
		t := p.advance()
		n := &ast.IntLit{Value: t.IntVal}
		n.Span = sp
		return n
	case token.KwTrue, token.KwFalse:
		t := p.advance()
		n := &ast.BoolLit{Value: t.Kind == token.KwTrue}
		n.Span = sp
		return n
	case token.StrLit:
		t := p.advance()
		n := &ast.StrLit{Value: t.StrVal}
		n.Span = sp
		return n
	case token.KwNone:
		p.advance()
		n := &ast.NoneLit{}
		n.Span = sp
		return n
	case token.Minus:
		p.advance()
		if p.at(token.IntLit) {
			t := p.advance()
			n := &ast.IntLit{Value: -t.IntVal}
			n.Span = sp
			return n
		}
		p.errf(sp, "expected integer literal after unary '-'")
		n := &ast.IntLit{}
		n.Span = sp
		return n
	case token.LBracket:
		p.advance()
		p.expect(token.RBracket)
		n := &ast.ListExpr{}
		n.Span = sp
		return n
	default:
		p.errf(sp, "expected a literal, found %s", p.cur().Kind)
		p.recover()
		n := &ast.NoneLit{}
		n.Span = sp
		return n
	}
}

func (p *Parser) parseTypeAnnotation() ast.TypeAnnotation {
	sp := p.cur().Span
	if p.at(token.LBracket) {
		p.advance()
		elem := p.parseTypeAnnotation()
		p.expect(token.RBracket)
		lt := &ast.ListType{Elem: elem}
		lt.Span = sp
		return lt
	}
	if p.at(token.StrLit) {
		// Forward-referenced class name written as a string literal,
		// e.g. `self: "A"`.
		t := p.advance()
		ct := &ast.ClassType{Name: t.StrVal}
		ct.Span = sp
		return ct
	}
	name := p.expect(token.Ident).Lexeme
	ct := &ast.ClassType{Name: name}
	ct.Span = sp
	return ct
}

func (p *Parser) parseClassDecl() ast.Decl {
	sp := p.cur().Span
	p.advance() // class
	name := p.expect(token.Ident).Lexeme
	p.expect(token.LParen)
	super := p.expect(token.Ident).Lexeme
	p.expect(token.RParen)
	p.expect(token.Colon)
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	cd := &ast.ClassDecl{Name: name, Super: super}
	cd.Span = sp
	if p.at(token.KwPass) {
		p.advance()
		p.expect(token.NEWLINE)
	} else {
		for p.isDeclStart() {
			cd.Members = append(cd.Members, p.parseDecl())
			p.skipNewlines()
		}
	}
	p.expect(token.DEDENT)
	return cd
}

func (p *Parser) parseFuncDecl() ast.Decl {
	sp := p.cur().Span
	p.advance() // def
	name := p.expect(token.Ident).Lexeme
	p.expect(token.LParen)
	var params []*ast.Param
	for !p.at(token.RParen) && !p.at(token.EOF) {
		psp := p.cur().Span
		pname := p.expect(token.Ident).Lexeme
		p.expect(token.Colon)
		ptyp := p.parseTypeAnnotation()
		pr := &ast.Param{Name: pname, Type: ptyp}
		pr.Span = psp
		params = append(params, pr)
		if p.at(token.Comma) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RParen)
	var ret ast.TypeAnnotation
	if p.at(token.Arrow) {
		p.advance()
		ret = p.parseTypeAnnotation()
	}
	p.expect(token.Colon)
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	fd := &ast.FuncDecl{Name: name, Params: params, ReturnType: ret}
	fd.Span = sp
	for p.isDeclStart() {
		fd.Decls = append(fd.Decls, p.parseDecl())
		p.skipNewlines()
	}
	for !p.at(token.DEDENT) && !p.at(token.EOF) {
		fd.Stmts = append(fd.Stmts, p.parseStmt())
		p.skipNewlines()
	}
	p.expect(token.DEDENT)
	return fd
}

// ---- statements ----

func (p *Parser) parseBlock() []ast.Stmt {
	p.expect(token.NEWLINE)
	p.expect(token.INDENT)
	var stmts []ast.Stmt
	for !p.at(token.DEDENT) && !p.at(token.EOF) {
		stmts = append(stmts, p.parseStmt())
		p.skipNewlines()
	}
	p.expect(token.DEDENT)
	return stmts
}

func (p *Parser) parseStmt() ast.Stmt {
	sp := p.cur().Span
	switch p.cur().Kind {
	case token.KwPass:
		p.advance()
		p.expect(token.NEWLINE)
		s := &ast.Pass{}
		s.Span = sp
		return s
	case token.KwReturn:
		p.advance()
		var val ast.Expr
		if !p.at(token.NEWLINE) {
			val = p.parseExpr()
		}
		p.expect(token.NEWLINE)
		s := &ast.Return{Value: val}
		s.Span = sp
		return s
	case token.KwIf:
		return p.parseIf()
	case token.KwWhile:
		p.advance()
		cond := p.parseExpr()
		p.expect(token.Colon)
		body := p.parseBlock()
		s := &ast.While{Cond: cond, Body: body}
		s.Span = sp
		return s
	case token.KwFor:
		p.advance()
		name := p.expect(token.Ident).Lexeme
		p.expect(token.KwIn)
		iter := p.parseExpr()
		p.expect(token.Colon)
		body := p.parseBlock()
		s := &ast.For{Name: name, Iter: iter, Body: body}
		s.Span = sp
		return s
	default:
		return p.parseSimpleStmt()
	}
}

func (p *Parser) parseIf() ast.Stmt {
	sp := p.cur().Span
	p.advance() // if
	cond := p.parseExpr()
	p.expect(token.Colon)
	then := p.parseBlock()
	s := &ast.If{Cond: cond, Then: then}
	s.Span = sp
	if p.at(token.KwElif) {
		s.Else = []ast.Stmt{p.parseElif()}
		return s
	}
	if p.at(token.KwElse) {
		p.advance()
		p.expect(token.Colon)
		s.Else = p.parseBlock()
	}
	return s
}

// parseElif treats `elif` as sugar for `else: if ...`, which a
// recursive-descent parser can express directly without a special case in
// the typed AST.
func (p *Parser) parseElif() ast.Stmt {
	sp := p.cur().Span
	p.advance() // elif
	cond := p.parseExpr()
	p.expect(token.Colon)
	then := p.parseBlock()
	s := &ast.If{Cond: cond, Then: then}
	s.Span = sp
	if p.at(token.KwElif) {
		s.Else = []ast.Stmt{p.parseElif()}
	} else if p.at(token.KwElse) {
		p.advance()
		p.expect(token.Colon)
		s.Else = p.parseBlock()
	}
	return s
}

// parseSimpleStmt handles assignment (possibly multi-target) and bare
// expression statements, the other half of the declaration/statement
// ambiguity.
func (p *Parser) parseSimpleStmt() ast.Stmt {
	sp := p.cur().Span
	first := p.parseExpr()
	if p.at(token.Assign) {
		targets := []ast.Expr{first}
		for p.at(token.Assign) {
			p.advance()
			next := p.parseExpr()
			if p.at(token.Assign) {
				targets = append(targets, next)
				continue
			}
			p.expect(token.NEWLINE)
			s := &ast.Assign{Targets: targets, Value: next}
			s.Span = sp
			return s
		}
	}
	p.expect(token.NEWLINE)
	s := &ast.ExprStmt{X: first}
	s.Span = sp
	return s
}

// ---- expressions: one function per precedence level, per §4.B ----

func (p *Parser) parseExpr() ast.Expr { return p.parseTernary() }

func (p *Parser) parseTernary() ast.Expr {
	sp := p.cur().Span
	thenOrOnly := p.parseOr()
	if p.at(token.KwIf) {
		p.advance()
		cond := p.parseOr()
		p.expect(token.KwElse)
		elseExpr := p.parseExpr() // right-associative
		t := &ast.Ternary{Cond: cond, Then: thenOrOnly, Else: elseExpr}
		t.Span = sp
		return t
	}
	return thenOrOnly
}

func (p *Parser) parseOr() ast.Expr {
	sp := p.cur().Span
	x := p.parseAnd()
	for p.at(token.KwOr) {
		p.advance()
		y := p.parseAnd()
		b := &ast.Binary{Op: ast.BinOr, X: x, Y: y}
		b.Span = sp
		x = b
	}
	return x
}

func (p *Parser) parseAnd() ast.Expr {
	sp := p.cur().Span
	x := p.parseNot()
	for p.at(token.KwAnd) {
		p.advance()
		y := p.parseNot()
		b := &ast.Binary{Op: ast.BinAnd, X: x, Y: y}
		b.Span = sp
		x = b
	}
	return x
}

func (p *Parser) parseNot() ast.Expr {
	if p.at(token.KwNot) {
		sp := p.cur().Span
		p.advance()
		x := p.parseNot()
		u := &ast.Unary{Op: ast.UnaryNot, X: x}
		u.Span = sp
		return u
	}
	return p.parseComparison()
}

var cmpOps = map[token.Kind]ast.BinOp{
	token.Eq: ast.BinEq, token.NotEq: ast.BinNotEq,
	token.Less: ast.BinLess, token.LessEq: ast.BinLessEq,
	token.Greater: ast.BinGreater, token.GreaterEq: ast.BinGreaterEq,
	token.KwIs: ast.BinIs,
}

// parseComparison handles the non-associative comparison level: at most
// one comparison operator may appear (ChocoPy, unlike Python, does not
// chain comparisons).
func (p *Parser) parseComparison() ast.Expr {
	sp := p.cur().Span
	x := p.parseArith()
	if op, ok := cmpOps[p.cur().Kind]; ok {
		p.advance()
		y := p.parseArith()
		b := &ast.Binary{Op: op, X: x, Y: y}
		b.Span = sp
		return b
	}
	return x
}

func (p *Parser) parseArith() ast.Expr {
	sp := p.cur().Span
	x := p.parseTerm()
	for p.at(token.Plus) || p.at(token.Minus) {
		op := ast.BinAdd
		if p.cur().Kind == token.Minus {
			op = ast.BinSub
		}
		p.advance()
		y := p.parseTerm()
		b := &ast.Binary{Op: op, X: x, Y: y}
		b.Span = sp
		x = b
	}
	return x
}

func (p *Parser) parseTerm() ast.Expr {
	sp := p.cur().Span
	x := p.parseUnary()
	for p.at(token.Star) || p.at(token.DSlash) || p.at(token.Percent) {
		var op ast.BinOp
		switch p.cur().Kind {
		case token.Star:
			op = ast.BinMul
		case token.DSlash:
			op = ast.BinFloorDiv
		default:
			op = ast.BinMod
		}
		p.advance()
		y := p.parseUnary()
		b := &ast.Binary{Op: op, X: x, Y: y}
		b.Span = sp
		x = b
	}
	return x
}

func (p *Parser) parseUnary() ast.Expr {
	if p.at(token.Minus) {
		sp := p.cur().Span
		p.advance()
		x := p.parseUnary()
		u := &ast.Unary{Op: ast.UnaryNeg, X: x}
		u.Span = sp
		return u
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expr {
	sp := p.cur().Span
	x := p.parseAtom()
	for {
		switch p.cur().Kind {
		case token.Dot:
			p.advance()
			name := p.expect(token.Ident).Lexeme
			if p.at(token.LParen) {
				args := p.parseArgs()
				mc := &ast.MethodCall{X: x, Name: name, Args: args}
				mc.Span = sp
				x = mc
			} else {
				a := &ast.Attr{X: x, Name: name}
				a.Span = sp
				x = a
			}
		case token.LBracket:
			p.advance()
			idx := p.parseExpr()
			p.expect(token.RBracket)
			ix := &ast.Index{X: x, I: idx}
			ix.Span = sp
			x = ix
		case token.LParen:
			args := p.parseArgs()
			c := &ast.Call{Fun: x, Args: args}
			c.Span = sp
			x = c
		default:
			return x
		}
	}
}

func (p *Parser) parseArgs() []ast.Expr {
	p.expect(token.LParen)
	var args []ast.Expr
	for !p.at(token.RParen) && !p.at(token.EOF) {
		args = append(args, p.parseExpr())
		if p.at(token.Comma) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RParen)
	return args
}

func (p *Parser) parseAtom() ast.Expr {
	sp := p.cur().Span
	switch p.cur().Kind {
	case token.IntLit:
		t := p.advance()
		n := &ast.IntLit{Value: t.IntVal}
		n.Span = sp
		return n
	case token.KwTrue, token.KwFalse:
		t := p.advance()
		n := &ast.BoolLit{Value: t.Kind == token.KwTrue}
		n.Span = sp
		return n
	case token.StrLit:
		t := p.advance()
		n := &ast.StrLit{Value: t.StrVal}
		n.Span = sp
		return n
	case token.KwNone:
		p.advance()
		n := &ast.NoneLit{}
		n.Span = sp
		return n
	case token.Ident:
		t := p.advance()
		n := &ast.Id{Name: t.Lexeme}
		n.Span = sp
		return n
	case token.LParen:
		p.advance()
		x := p.parseExpr()
		p.expect(token.RParen)
		return x
	case token.LBracket:
		p.advance()
		var elems []ast.Expr
		for !p.at(token.RBracket) && !p.at(token.EOF) {
			elems = append(elems, p.parseExpr())
			if p.at(token.Comma) {
				p.advance()
				continue
			}
			break
		}
		p.expect(token.RBracket)
		n := &ast.ListExpr{Elems: elems}
		n.Span = sp
		return n
	default:
		p.errf(sp, "unexpected token %s in expression", p.cur().Kind)
		p.recover()
		n := &ast.NoneLit{}
		n.Span = sp
		return n
	}
}
