// Package ast defines the untyped ChocoPy abstract syntax tree produced by
// the parser, and the typed annotations attached by the semantic analyzer.
//
// Nodes are modeled as tagged variants discriminated by a Kind method
// rather than a class hierarchy: visitors become exhaustive type
// switches over the Node/Expr/Stmt interfaces, matching the Design
// Notes' guidance for translating the source's AST class hierarchy into
// idiomatic Go.
package ast

import "github.com/chocopy-lang/chocopy/pkg/token"

// Node is implemented by every AST node; every node carries a source Span.
type Node interface {
	Pos() token.Span
}

// Expr is implemented by expression nodes. The type read by Type and
// written by SetType is populated by the
// semantic analyzer's Pass 2 and is nil on the untyped tree the parser
// produces.
type Expr interface {
	Node
	exprNode()
	SetType(t any)
	Type() any
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// Decl is implemented by top-level and nested declarations.
type Decl interface {
	Node
	declNode()
}

// TypeAnnotation is implemented by the syntactic type annotations that
// appear in declarations (`ClassType`, `ListType`), distinct from the
// semantic Type lattice computed by pkg/types.
type TypeAnnotation interface {
	Node
	typeAnnNode()
	String() string
}

// base embeds into every concrete node to provide Pos() and a type slot
// for expressions.
type base struct {
	Span token.Span
	typ  any
}

func (b *base) Pos() token.Span  { return b.Span }
func (b *base) SetType(t any)    { b.typ = t }
func (b *base) Type() any        { return b.typ }

// ---- Program ----

// Program is the root node: top-level declarations followed by top-level
// statements (`$chocopy_main`'s body).
type Program struct {
	base
	Defs  []Decl
	Stmts []Stmt
}

// ---- Declarations ----

// VarDecl declares a typed variable with a literal initializer, as
// ChocoPy requires ("name : T = literal").
type VarDecl struct {
	base
	Name    string
	Type    TypeAnnotation
	Literal Expr
}

// Param is a single function parameter.
type Param struct {
	base
	Name string
	Type TypeAnnotation
}

// FuncDecl declares a (possibly nested) function or method.
type FuncDecl struct {
	base
	Name       string
	Params     []*Param
	ReturnType TypeAnnotation // nil means `None`-returning
	Decls      []Decl         // VarDecl/FuncDecl/GlobalDecl/NonLocalDecl local to this function
	Stmts      []Stmt
}

// ClassDecl declares a class with a single superclass.
type ClassDecl struct {
	base
	Name    string
	Super   string
	Members []Decl // VarDecl and FuncDecl
}

// GlobalDecl declares that Name, assigned in this function, refers to the
// module-global binding.
type GlobalDecl struct {
	base
	Name string
}

// NonLocalDecl declares that Name refers to a binding in an enclosing
// function's scope.
type NonLocalDecl struct {
	base
	Name string
}

func (*VarDecl) declNode()      {}
func (*FuncDecl) declNode()     {}
func (*ClassDecl) declNode()    {}
func (*GlobalDecl) declNode()   {}
func (*NonLocalDecl) declNode() {}

// ---- Type annotations ----

// ClassType is a syntactic reference to a class name (including the
// builtin names "int", "bool", "str", "object").
type ClassType struct {
	base
	Name string
}

// ListType is a syntactic `[T]` annotation.
type ListType struct {
	base
	Elem TypeAnnotation
}

func (*ClassType) typeAnnNode() {}
func (*ListType) typeAnnNode()  {}

func (c *ClassType) String() string { return c.Name }
func (l *ListType) String() string  { return "[" + l.Elem.String() + "]" }

// ---- Statements ----

// Assign is a (possibly multi-target) assignment statement.
type Assign struct {
	base
	Targets []Expr
	Value   Expr
}

// ExprStmt is a bare expression used as a statement (typically a call).
type ExprStmt struct {
	base
	X Expr
}

// If is an if/elif-chain/else statement; Else may itself hold a single
// nested If to represent "elif", matching how a recursive-descent parser
// naturally builds the chain.
type If struct {
	base
	Cond Expr
	Then []Stmt
	Else []Stmt
}

// While is a while loop.
type While struct {
	base
	Cond Expr
	Body []Stmt
}

// For is a `for x in iter:` loop.
type For struct {
	base
	Name string
	Iter Expr
	Body []Stmt
}

// Return is a return statement; Value is nil for a bare `return`.
type Return struct {
	base
	Value Expr
}

// Pass is a no-op statement.
type Pass struct {
	base
}

func (*Assign) stmtNode()   {}
func (*ExprStmt) stmtNode() {}
func (*If) stmtNode()       {}
func (*While) stmtNode()    {}
func (*For) stmtNode()      {}
func (*Return) stmtNode()   {}
func (*Pass) stmtNode()     {}

// ---- Expressions ----

// IntLit is an integer literal.
type IntLit struct {
	base
	Value int64
}

// BoolLit is a `True`/`False` literal.
type BoolLit struct {
	base
	Value bool
}

// StrLit is a string literal.
type StrLit struct {
	base
	Value string
}

// NoneLit is the `None` literal.
type NoneLit struct {
	base
}

// Id is an identifier reference.
type Id struct {
	base
	Name string
}

// UnaryOp enumerates the unary operators.
type UnaryOp int

// Unary operators.
const (
	UnaryNeg UnaryOp = iota
	UnaryNot
)

// Unary is a unary operator application.
type Unary struct {
	base
	Op UnaryOp
	X  Expr
}

// BinOp enumerates the binary operators.
type BinOp int

// Binary operators.
const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinFloorDiv
	BinMod
	BinEq
	BinNotEq
	BinLess
	BinLessEq
	BinGreater
	BinGreaterEq
	BinIs
	BinAnd
	BinOr
)

// Binary is a binary operator application.
type Binary struct {
	base
	Op   BinOp
	X, Y Expr
}

// Ternary is ChocoPy's `a if cond else b` conditional expression.
type Ternary struct {
	base
	Cond, Then, Else Expr
}

// Index is a subscript `X[I]`.
type Index struct {
	base
	X, I Expr
}

// Attr is an attribute access `X.Name`.
type Attr struct {
	base
	X    Expr
	Name string
}

// Call is a call to a function or class constructor: `Fun(Args...)`.
type Call struct {
	base
	Fun  Expr
	Args []Expr
}

// MethodCall is a call through an attribute selector: `X.Name(Args...)`.
type MethodCall struct {
	base
	X    Expr
	Name string
	Args []Expr
}

// ListExpr is a list display `[a, b, c]`.
type ListExpr struct {
	base
	Elems []Expr
}

func (*IntLit) exprNode()     {}
func (*BoolLit) exprNode()    {}
func (*StrLit) exprNode()     {}
func (*NoneLit) exprNode()    {}
func (*Id) exprNode()         {}
func (*Unary) exprNode()      {}
func (*Binary) exprNode()     {}
func (*Ternary) exprNode()    {}
func (*Index) exprNode()      {}
func (*Attr) exprNode()       {}
func (*Call) exprNode()       {}
func (*MethodCall) exprNode() {}
func (*ListExpr) exprNode()   {}
