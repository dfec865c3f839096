// Package template parses and renders attribute templates of the form
//
//	NAME        = "nightly"
//	BACKUP_VMS  = "0,1,2"
//	SCHED_ACTION = [ REPEAT = "3", DAYS = "1", TIME = "+3600" ]
//
// Attribute names are case insensitive and stored upper case. A name may repeat.
// Package template 解析和渲染属性模板，属性名不区分大小写并以大写存储，允许重复
package template

import (
	"fmt"
	"sort"
	"strings"
)

// Pair is one NAME = VALUE entry of a vector attribute
// Pair 向量属性中的一个键值对
type Pair struct {
	Name  string
	Value string
}

// Attribute is either a single value or a vector of pairs
// Attribute 单值属性或向量属性
type Attribute struct {
	Name   string
	Value  string
	Vector []Pair
	// IsVector 是否为向量属性
	IsVector bool
}

// Get returns a vector pair value
// Get 返回向量中的键值
func (a Attribute) Get(name string) (string, bool) {
	name = strings.ToUpper(name)
	for _, p := range a.Vector {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Set replaces or appends a vector pair
// Set 替换或追加向量键值
func (a *Attribute) Set(name, value string) {
	name = strings.ToUpper(name)
	for i := range a.Vector {
		if a.Vector[i].Name == name {
			a.Vector[i].Value = value
			return
		}
	}
	a.Vector = append(a.Vector, Pair{Name: name, Value: value})
}

// Map returns the vector pairs as a map
// Map 以 map 形式返回向量键值
func (a Attribute) Map() map[string]string {
	m := make(map[string]string, len(a.Vector))
	for _, p := range a.Vector {
		m[p.Name] = p.Value
	}
	return m
}

// Template ordered list of attributes
// Template 有序属性列表
type Template struct {
	attrs []Attribute
}

func New() *Template {
	return &Template{}
}

// Has reports whether at least one attribute with name exists
// Has 是否存在该名称的属性
func (t *Template) Has(name string) bool {
	name = strings.ToUpper(name)
	for _, a := range t.attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Get returns the first single-valued attribute with name
// Get 返回第一个同名单值属性
func (t *Template) Get(name string) (string, bool) {
	name = strings.ToUpper(name)
	for _, a := range t.attrs {
		if a.Name == name && !a.IsVector {
			return a.Value, true
		}
	}
	return "", false
}

// Vectors returns every vector attribute with name
// Vectors 返回所有同名向量属性
func (t *Template) Vectors(name string) []Attribute {
	name = strings.ToUpper(name)
	var out []Attribute
	for _, a := range t.attrs {
		if a.Name == name && a.IsVector {
			out = append(out, a)
		}
	}
	return out
}

// Attributes returns a copy of all attributes in declaration order
// Attributes 按声明顺序返回所有属性的副本
func (t *Template) Attributes() []Attribute {
	out := make([]Attribute, len(t.attrs))
	copy(out, t.attrs)
	return out
}

// Set replaces every attribute named name with a single value
// Set 用单值替换所有同名属性
func (t *Template) Set(name, value string) {
	name = strings.ToUpper(name)
	t.Delete(name)
	t.attrs = append(t.attrs, Attribute{Name: name, Value: value})
}

// AddVector appends a vector attribute
// AddVector 追加向量属性
func (t *Template) AddVector(name string, pairs []Pair) {
	v := Attribute{Name: strings.ToUpper(name), IsVector: true}
	for _, p := range pairs {
		v.Set(p.Name, p.Value)
	}
	t.attrs = append(t.attrs, v)
}

// Delete removes every attribute named name
// Delete 删除所有同名属性
func (t *Template) Delete(name string) {
	name = strings.ToUpper(name)
	kept := t.attrs[:0]
	for _, a := range t.attrs {
		if a.Name != name {
			kept = append(kept, a)
		}
	}
	t.attrs = kept
}

// Values returns the single-valued attributes as a map, later duplicates win
// Values 以 map 返回单值属性，重复时后者覆盖
func (t *Template) Values() map[string]string {
	m := make(map[string]string)
	for _, a := range t.attrs {
		if !a.IsVector {
			m[a.Name] = a.Value
		}
	}
	return m
}

// String renders the template, values are always quoted
// String 渲染模板，值始终加引号
func (t *Template) String() string {
	var b strings.Builder
	for _, a := range t.attrs {
		b.WriteString(a.Name)
		b.WriteString(" = ")
		if a.IsVector {
			b.WriteString("[\n")
			for i, p := range a.Vector {
				b.WriteString("  ")
				b.WriteString(p.Name)
				b.WriteString(" = ")
				b.WriteString(quote(p.Value))
				if i < len(a.Vector)-1 {
					b.WriteString(",")
				}
				b.WriteString("\n")
			}
			b.WriteString("]\n")
			continue
		}
		b.WriteString(quote(a.Value))
		b.WriteString("\n")
	}
	return b.String()
}

// FromMap builds a template from a map with sorted keys
// FromMap 由 map 构建模板，键按字母排序
func FromMap(m map[string]string) *Template {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := New()
	for _, k := range keys {
		t.attrs = append(t.attrs, Attribute{Name: strings.ToUpper(k), Value: m[k]})
	}
	return t
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// SyntaxError reports the position of a parse failure
// SyntaxError 语法错误及其位置
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template syntax error at line %d: %s", e.Line, e.Msg)
}
