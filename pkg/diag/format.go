package diag

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Templates maps a diagnostic code to a message template using
// positional placeholders {0}..{2}. Formatting is deferred to this
// point deliberately: the bag itself never builds message strings.
type Templates map[Code]string

// Format renders d's message by substituting {0}..{2} with its
// argument substrings, looked up by code in templates. An unknown
// code falls back to its numeric value.
func (b *Bag) Format(d Diagnostic, templates Templates) string {
	tmpl, ok := templates[d.Code]
	if !ok {
		return "diagnostic " + strconv.Itoa(int(d.Code))
	}
	var out strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '{' && i+2 < len(tmpl) && tmpl[i+2] == '}' && tmpl[i+1] >= '0' && tmpl[i+1] <= '9' {
			idx := int(tmpl[i+1] - '0')
			out.Write(b.Arg(d, idx))
			i += 2
			continue
		}
		out.WriteByte(tmpl[i])
	}
	return out.String()
}

// lspPosition is a zero-based line/character position, per the LSP spec.
type lspPosition struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type lspRange struct {
	Start lspPosition `json:"start"`
	End   lspPosition `json:"end"`
}

// lspDiagnostic is the wire shape of one LSP Diagnostic object.
type lspDiagnostic struct {
	Range    lspRange `json:"range"`
	Severity int      `json:"severity"`
	Code     uint32   `json:"code"`
	Message  string   `json:"message"`
}

// ToLSPJSON renders every diagnostic in the bag as an LSP-compatible
// JSON array (severity 1=Error, 2=Warning, 3=Info, 4=Hint).
func (b *Bag) ToLSPJSON(templates Templates) ([]byte, error) {
	out := make([]lspDiagnostic, 0, b.Len())
	for i := 0; i < b.Len(); i++ {
		d := b.At(i)
		out = append(out, lspDiagnostic{
			Range: lspRange{
				Start: lspPosition{Line: d.Span.Line, Character: d.Span.Column},
				End:   lspPosition{Line: d.Span.Line, Character: d.Span.Column + d.Span.Length},
			},
			Severity: int(SeverityOf(d.Code)),
			Code:     uint32(d.Code),
			Message:  b.Format(d, templates),
		})
	}
	return json.Marshal(out)
}
