// Package ui renders command output for the terminal
package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
)

// Printer writes to a terminal, colouring output only when w is one
type Printer struct {
	w      io.Writer
	colour bool
}

// NewPrinter creates a printer. Colour is enabled for terminals unless NO_COLOR is set.
func NewPrinter(w io.Writer) *Printer {
	colour := false
	if f, ok := w.(*os.File); ok && os.Getenv("NO_COLOR") == "" {
		colour = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{w: w, colour: colour}
}

// NewPlainPrinter creates a printer that never colours
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Paint wraps s in colour when colouring is enabled
func (p *Printer) Paint(colour, s string) string {
	if !p.colour || colour == "" {
		return s
	}
	return colour + s + ResetColor
}

// Printf writes a formatted line
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// Success writes a green line
func (p *Printer) Success(msg string) {
	p.Printf("%s\n", p.Paint(Green, msg))
}

// Warn writes a yellow line
func (p *Printer) Warn(msg string) {
	p.Printf("%s\n", p.Paint(Yellow, msg))
}

// Error writes a red line
func (p *Printer) Error(msg string) {
	p.Printf("%s\n", p.Paint(Red, msg))
}

// Field writes an aligned "label: value" line
func (p *Printer) Field(label, value string) {
	p.Printf("%s %s\n", p.Paint(Gray, fmt.Sprintf("%-14s", label+":")), value)
}

// Exchange writes a request line and its status, e.g. "GET /auth/profile 200 OK"
func (p *Printer) Exchange(method, path string, status int) {
	p.Printf("%s %s %s\n",
		p.Paint(MethodColor(method), method),
		path,
		p.Paint(StatusColor(status), fmt.Sprintf("%d %s", status, http.StatusText(status))),
	)
}

// JSON writes body indented when it is JSON and verbatim otherwise
func (p *Printer) JSON(body []byte) {
	if len(body) == 0 {
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		p.Printf("%s\n", body)
		return
	}
	p.Printf("%s\n", out.String())
}
