package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Print renders p back into canonical ChocoPy source text. It is the
// serializer half of the parse → serialize → re-parse round-trip
// invariant (§8, property 1): feeding Print's output back through the
// lexer and parser must reproduce an equal untyped tree.
func Print(p *Program) string {
	var pr printer
	for _, d := range p.Defs {
		pr.decl(d, 0)
	}
	for _, s := range p.Stmts {
		pr.stmt(s, 0)
	}
	return pr.sb.String()
}

type printer struct {
	sb strings.Builder
}

func (p *printer) indent(n int) {
	p.sb.WriteString(strings.Repeat("    ", n))
}

func (p *printer) decl(d Decl, lvl int) {
	switch d := d.(type) {
	case *VarDecl:
		p.indent(lvl)
		fmt.Fprintf(&p.sb, "%s:%s = %s\n", d.Name, d.Type.String(), exprString(d.Literal))
	case *GlobalDecl:
		p.indent(lvl)
		fmt.Fprintf(&p.sb, "global %s\n", d.Name)
	case *NonLocalDecl:
		p.indent(lvl)
		fmt.Fprintf(&p.sb, "nonlocal %s\n", d.Name)
	case *FuncDecl:
		p.indent(lvl)
		p.sb.WriteString("def ")
		p.sb.WriteString(d.Name)
		p.sb.WriteString("(")
		for i, prm := range d.Params {
			if i > 0 {
				p.sb.WriteString(", ")
			}
			fmt.Fprintf(&p.sb, "%s:%s", prm.Name, prm.Type.String())
		}
		p.sb.WriteString(")")
		if d.ReturnType != nil {
			p.sb.WriteString(" -> ")
			p.sb.WriteString(d.ReturnType.String())
		}
		p.sb.WriteString(":\n")
		for _, nested := range d.Decls {
			p.decl(nested, lvl+1)
		}
		for _, s := range d.Stmts {
			p.stmt(s, lvl+1)
		}
	case *ClassDecl:
		p.indent(lvl)
		fmt.Fprintf(&p.sb, "class %s(%s):\n", d.Name, d.Super)
		if len(d.Members) == 0 {
			p.indent(lvl + 1)
			p.sb.WriteString("pass\n")
		}
		for _, m := range d.Members {
			p.decl(m, lvl+1)
		}
	}
}

func (p *printer) block(stmts []Stmt, lvl int) {
	if len(stmts) == 0 {
		p.indent(lvl)
		p.sb.WriteString("pass\n")
		return
	}
	for _, s := range stmts {
		p.stmt(s, lvl)
	}
}

func (p *printer) stmt(s Stmt, lvl int) {
	p.indent(lvl)
	switch s := s.(type) {
	case *Pass:
		p.sb.WriteString("pass\n")
	case *ExprStmt:
		p.sb.WriteString(exprString(s.X))
		p.sb.WriteString("\n")
	case *Return:
		p.sb.WriteString("return")
		if s.Value != nil {
			p.sb.WriteString(" ")
			p.sb.WriteString(exprString(s.Value))
		}
		p.sb.WriteString("\n")
	case *Assign:
		names := make([]string, len(s.Targets))
		for i, t := range s.Targets {
			names[i] = exprString(t)
		}
		fmt.Fprintf(&p.sb, "%s = %s\n", strings.Join(names, " = "), exprString(s.Value))
	case *If:
		fmt.Fprintf(&p.sb, "if %s:\n", exprString(s.Cond))
		p.block(s.Then, lvl+1)
		if len(s.Else) > 0 {
			p.indent(lvl)
			p.sb.WriteString("else:\n")
			p.block(s.Else, lvl+1)
		}
	case *While:
		fmt.Fprintf(&p.sb, "while %s:\n", exprString(s.Cond))
		p.block(s.Body, lvl+1)
	case *For:
		fmt.Fprintf(&p.sb, "for %s in %s:\n", s.Name, exprString(s.Iter))
		p.block(s.Body, lvl+1)
	}
}

// exprString renders an expression as a single line of ChocoPy source.
// Parenthesization is conservative (always added around binary/ternary
// subexpressions) so the round trip never depends on precedence being
// re-derived correctly by a casual reader of the printed text.
func exprString(e Expr) string {
	switch e := e.(type) {
	case nil:
		return ""
	case *IntLit:
		return strconv.FormatInt(e.Value, 10)
	case *BoolLit:
		if e.Value {
			return "True"
		}
		return "False"
	case *StrLit:
		return strconv.Quote(e.Value)
	case *NoneLit:
		return "None"
	case *Id:
		return e.Name
	case *Unary:
		op := "-"
		if e.Op == UnaryNot {
			op = "not "
		}
		return "(" + op + exprString(e.X) + ")"
	case *Binary:
		return "(" + exprString(e.X) + " " + binOpString(e.Op) + " " + exprString(e.Y) + ")"
	case *Ternary:
		return "(" + exprString(e.Then) + " if " + exprString(e.Cond) + " else " + exprString(e.Else) + ")"
	case *Index:
		return exprString(e.X) + "[" + exprString(e.I) + "]"
	case *Attr:
		return exprString(e.X) + "." + e.Name
	case *Call:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = exprString(a)
		}
		return exprString(e.Fun) + "(" + strings.Join(args, ", ") + ")"
	case *MethodCall:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = exprString(a)
		}
		return exprString(e.X) + "." + e.Name + "(" + strings.Join(args, ", ") + ")"
	case *ListExpr:
		elems := make([]string, len(e.Elems))
		for i, el := range e.Elems {
			elems[i] = exprString(el)
		}
		return "[" + strings.Join(elems, ", ") + "]"
	default:
		return fmt.Sprintf("<?%T>", e)
	}
}

func binOpString(op BinOp) string {
	switch op {
	case BinAdd:
		return "+"
	case BinSub:
		return "-"
	case BinMul:
		return "*"
	case BinFloorDiv:
		return "//"
	case BinMod:
		return "%"
	case BinEq:
		return "=="
	case BinNotEq:
		return "!="
	case BinLess:
		return "<"
	case BinLessEq:
		return "<="
	case BinGreater:
		return ">"
	case BinGreaterEq:
		return ">="
	case BinIs:
		return "is"
	case BinAnd:
		return "and"
	case BinOr:
		return "or"
	default:
		return "?"
	}
}
