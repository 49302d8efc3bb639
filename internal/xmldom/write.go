package xmldom

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const header = "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n"

// Write serializes the tree rooted at e to w, one element per line with
// tab indentation, preceded by an XML declaration.
func Write(w io.Writer, e *Element) error {
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	return writeElement(w, e, 0)
}

// String returns the serialized document as a string.
func String(e *Element) string {
	var buf bytes.Buffer
	if err := Write(&buf, e); err != nil {
		return ""
	}
	return buf.String()
}

func writeElement(w io.Writer, e *Element, depth int) error {
	indent := strings.Repeat("\t", depth)
	var buf bytes.Buffer
	buf.WriteString(indent)
	buf.WriteByte('<')
	buf.WriteString(e.Name)
	for _, a := range e.Attrs {
		buf.WriteByte(' ')
		buf.WriteString(a.Name)
		buf.WriteString(`="`)
		buf.WriteString(escapeAttr(a.Value))
		buf.WriteByte('"')
	}
	text := strings.TrimSpace(e.Text)
	switch {
	case len(e.Children) == 0 && text == "":
		buf.WriteString("/>\n")
	case len(e.Children) == 0:
		buf.WriteByte('>')
		buf.WriteString(escapeText(text))
		fmt.Fprintf(&buf, "</%s>\n", e.Name)
	default:
		buf.WriteString(">\n")
		if text != "" {
			buf.WriteString(indent)
			buf.WriteByte('\t')
			buf.WriteString(escapeText(text))
			buf.WriteByte('\n')
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
		for _, ch := range e.Children {
			if err := writeElement(w, ch, depth+1); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "%s</%s>\n", indent, e.Name)
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// escapeText keeps newlines and tabs literal inside element content.
func escapeText(s string) string {
	out := escapeAttr(s)
	out = strings.ReplaceAll(out, "&#xA;", "\n")
	out = strings.ReplaceAll(out, "&#x9;", "\t")
	return out
}
