package action

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	fencedBlock   = regexp.MustCompile("(?is)(?:```|\"\"\")[a-z0-9]*\\s*(\\{.*?\\})\\s*(?:```|\"\"\")")
	fenceMarker   = regexp.MustCompile("(?i)(?:```|\"\"\")[a-z0-9]*")
	residualChars = strings.NewReplacer("{", "", "}", "", "[", "", "]", "")
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// Result is the outcome of parsing one model reply.
type Result struct {
	// Text is the reply with every structured-data fragment removed.
	Text string
	// Payload is nil when the reply carries no usable action.
	Payload *Payload
}

// Parser decodes action blocks. Dates without a zone are read in Location.
type Parser struct {
	Location *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{Location: loc}
}

// Parse extracts at most one action from reply. A fenced block wins over a
// bare brace-delimited object. A payload whose dates fail to parse is
// dropped, leaving only the cleaned text.
func (p *Parser) Parse(reply string) Result {
	raw, ok := findBlock(reply)
	if !ok {
		return Result{Text: reply}
	}

	res := Result{Text: Clean(reply)}
	payload, err := p.decode(raw)
	if err != nil {
		return res
	}
	res.Payload = payload
	return res
}

func findBlock(s string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	start, end, ok := firstObject(s)
	if !ok {
		return "", false
	}
	return s[start:end], true
}

// firstObject locates the first balanced {...} span, honouring JSON strings.
// A brace that never closes is skipped and the scan resumes at the next one.
func firstObject(s string) (int, int, bool) {
	for from := 0; from < len(s); {
		i := strings.IndexByte(s[from:], '{')
		if i < 0 {
			break
		}
		start := from + i
		if end, ok := objectEnd(s, start); ok {
			return start, end, true
		}
		from = start + 1
	}
	return 0, 0, false
}

func objectEnd(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// Clean strips fenced blocks, brace-delimited objects and any leftover
// brace, bracket or fence characters.
func Clean(s string) string {
	s = fencedBlock.ReplaceAllString(s, "")
	for {
		start, end, ok := firstObject(s)
		if !ok {
			break
		}
		s = s[:start] + s[end:]
	}
	s = fenceMarker.ReplaceAllString(s, "")
	s = residualChars.Replace(s)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func (p *Parser) decode(raw string) (*Payload, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decoding action block: %w", err)
	}
	act, ok := m["action"]
	if !ok {
		return nil, fmt.Errorf("action block has no action field")
	}

	out := &Payload{
		Action:      Kind(strings.ToLower(strings.TrimSpace(str(act)))),
		Type:        EntityType(strings.ToLower(strings.TrimSpace(str(m["type"])))),
		ID:          strings.TrimSpace(str(m["id"])),
		Title:       strings.TrimSpace(str(m["title"])),
		Description: str(m["description"]),
		Priority:    strings.ToLower(strings.TrimSpace(str(m["priority"]))),
	}
	if out.Type == "" {
		out.Type = Task
	}

	dates := []struct {
		key string
		dst **Stamp
	}{
		{"due_date", &out.DueDate},
		{"start", &out.Start},
		{"end", &out.End},
		{"date", &out.Date},
	}
	for _, d := range dates {
		v, ok := m[d.key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected a string, got %T", d.key, v)
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		st, err := ParseStamp(s, p.Location)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = &st
	}
	return out, nil
}

// str renders scalar JSON values as strings so numeric ids survive.
func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
