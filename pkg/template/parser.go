package template

import (
	"strings"
	"unicode"
)

type parser struct {
	src  []rune
	pos  int
	line int
}

// Parse parses template text
// Parse 解析模板文本
func Parse(text string) (*Template, error) {
	p := &parser{src: []rune(text), line: 1}
	t := New()

	for {
		p.skipBlank(true)
		if p.eof() {
			return t, nil
		}

		name, err := p.name()
		if err != nil {
			return nil, err
		}
		p.skipBlank(false)
		if !p.consume('=') {
			return nil, p.errorf("expected '=' after " + name)
		}
		p.skipBlank(false)

		if p.consume('[') {
			attr := Attribute{Name: name, IsVector: true}
			if err := p.vector(&attr); err != nil {
				return nil, err
			}
			t.attrs = append(t.attrs, attr)
		} else {
			value, err := p.value(false)
			if err != nil {
				return nil, err
			}
			t.attrs = append(t.attrs, Attribute{Name: name, Value: value})
		}

		p.skipBlank(false)
		if !p.eof() && p.peek() != '\n' && p.peek() != '#' {
			return nil, p.errorf("unexpected character after value of " + name)
		}
	}
}

func (p *parser) vector(attr *Attribute) error {
	for {
		p.skipBlank(true)
		if p.consume(']') {
			return nil
		}
		if p.eof() {
			return p.errorf("unterminated vector " + attr.Name)
		}

		name, err := p.name()
		if err != nil {
			return err
		}
		p.skipBlank(true)
		if !p.consume('=') {
			return p.errorf("expected '=' after " + name)
		}
		p.skipBlank(true)
		value, err := p.value(true)
		if err != nil {
			return err
		}
		attr.Set(name, value)

		p.skipBlank(true)
		if p.consume(',') {
			continue
		}
		if p.consume(']') {
			return nil
		}
		return p.errorf("expected ',' or ']' in vector " + attr.Name)
	}
}

func (p *parser) name() (string, error) {
	start := p.pos
	for !p.eof() {
		r := p.peek()
		if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return "", p.errorf("expected attribute name")
	}
	return strings.ToUpper(string(p.src[start:p.pos])), nil
}

func (p *parser) value(inVector bool) (string, error) {
	if p.consume('"') {
		var b strings.Builder
		for {
			if p.eof() {
				return "", p.errorf("unterminated quoted value")
			}
			r := p.next()
			switch r {
			case '\\':
				if p.eof() {
					return "", p.errorf("unterminated escape")
				}
				b.WriteRune(p.next())
			case '"':
				return b.String(), nil
			case '\n':
				p.line++
				b.WriteRune(r)
			default:
				b.WriteRune(r)
			}
		}
	}

	start := p.pos
	for !p.eof() {
		r := p.peek()
		if r == '\n' || r == '#' || (inVector && (r == ',' || r == ']')) {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(string(p.src[start:p.pos])), nil
}

// skipBlank skips spaces and comments, newlines too when multiline is set
// skipBlank 跳过空白与注释，multiline 时同时跳过换行
func (p *parser) skipBlank(multiline bool) {
	for !p.eof() {
		r := p.peek()
		switch {
		case r == '#':
			for !p.eof() && p.peek() != '\n' {
				p.pos++
			}
		case r == '\n':
			if !multiline {
				return
			}
			p.line++
			p.pos++
		case unicode.IsSpace(r):
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() rune {
	return p.src[p.pos]
}

func (p *parser) next() rune {
	r := p.src[p.pos]
	p.pos++
	return r
}

func (p *parser) consume(r rune) bool {
	if !p.eof() && p.src[p.pos] == r {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(msg string) error {
	return &SyntaxError{Line: p.line, Msg: msg}
}
