package skew

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// textprotoToJSON converts protobuf text format into JSON without a message
// descriptor. Fields named in repeated become arrays; other fields keep the
// last value. Enum identifiers become strings.
func textprotoToJSON(data []byte, repeated map[string]bool) ([]byte, error) {
	p := &tpParser{repeated: repeated}
	p.s.Init(bytes.NewReader(stripHashComments(data)))
	p.s.Mode = scanner.ScanIdents | scanner.ScanFloats | scanner.ScanStrings | scanner.ScanRawStrings
	p.s.Error = func(_ *scanner.Scanner, msg string) { p.err = fmt.Errorf("textproto: %s", msg) }
	p.next()

	msg, err := p.message(scanner.EOF)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

type tpParser struct {
	s        scanner.Scanner
	tok      rune
	repeated map[string]bool
	err      error
}

func (p *tpParser) next() { p.tok = p.s.Scan() }

func (p *tpParser) fail(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return fmt.Errorf("textproto %s: %s", p.s.Position, fmt.Sprintf(format, args...))
}

// message parses fields until the end token (EOF or '}').
func (p *tpParser) message(end rune) (map[string]any, error) {
	msg := make(map[string]any)
	for p.tok != end {
		if p.err != nil {
			return nil, p.err
		}
		if p.tok != scanner.Ident {
			return nil, p.fail("expected field name, got %s", scanner.TokenString(p.tok))
		}
		name := p.s.TokenText()
		p.next()

		var (
			value any
			err   error
		)
		switch p.tok {
		case ':':
			p.next()
			if p.tok == '{' || p.tok == '<' {
				value, err = p.nested()
			} else {
				value, err = p.scalar()
			}
		case '{', '<':
			value, err = p.nested()
		default:
			return nil, p.fail("expected ':' or '{' after %q", name)
		}
		if err != nil {
			return nil, err
		}
		p.set(msg, name, value)

		if p.tok == ',' || p.tok == ';' {
			p.next()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return msg, nil
}

func (p *tpParser) nested() (map[string]any, error) {
	closer := '}'
	if p.tok == '<' {
		closer = '>'
	}
	p.next()
	msg, err := p.message(closer)
	if err != nil {
		return nil, err
	}
	p.next()
	return msg, nil
}

func (p *tpParser) scalar() (any, error) {
	neg := false
	if p.tok == '-' {
		neg = true
		p.next()
	}
	text := p.s.TokenText()
	defer p.next()

	switch p.tok {
	case scanner.String, scanner.RawString:
		if neg {
			return nil, p.fail("unexpected '-' before string")
		}
		// Adjacent string literals concatenate.
		var sb strings.Builder
		for {
			s, err := strconv.Unquote(p.s.TokenText())
			if err != nil {
				return nil, p.fail("bad string %s", p.s.TokenText())
			}
			sb.WriteString(s)
			if p.s.Peek() != '"' && p.s.Peek() != '`' {
				break
			}
			p.next()
		}
		return sb.String(), nil
	case scanner.Int, scanner.Float:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, p.fail("bad number %s", text)
		}
		if neg {
			f = -f
		}
		return f, nil
	case scanner.Ident:
		switch text {
		case "true", "True", "t":
			return true, nil
		case "false", "False", "f":
			return false, nil
		case "inf", "infinity", "nan":
			return nil, p.fail("non-finite number %s", text)
		}
		if neg {
			return nil, p.fail("unexpected '-' before %s", text)
		}
		return text, nil
	default:
		return nil, p.fail("unexpected %s", scanner.TokenString(p.tok))
	}
}

func (p *tpParser) set(msg map[string]any, name string, value any) {
	if !p.repeated[name] {
		msg[name] = value
		return
	}
	list, _ := msg[name].([]any)
	msg[name] = append(list, value)
}

// stripHashComments removes '#' comments outside string literals.
func stripHashComments(data []byte) []byte {
	var out bytes.Buffer
	for _, line := range bytes.Split(data, []byte("\n")) {
		inString := byte(0)
		cut := len(line)
		for i := 0; i < len(line); i++ {
			c := line[i]
			switch {
			case inString != 0 && c == '\\':
				i++
			case inString != 0 && c == inString:
				inString = 0
			case inString == 0 && (c == '"' || c == '\''):
				inString = c
			case inString == 0 && c == '#':
				cut = i
				i = len(line)
			}
		}
		out.Write(line[:cut])
		out.WriteByte('\n')
	}
	return out.Bytes()
}
