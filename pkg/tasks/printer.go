package tasks

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Printer writes coloured status lines for humans. Structured logs go to the
// zap logger instead.
type Printer struct {
	w      io.Writer
	green  *color.Color
	yellow *color.Color
	red    *color.Color
}

// NewPrinter creates a Printer. noColor disables escape codes.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	p := &Printer{
		w:      w,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
	}
	if noColor {
		p.green.DisableColor()
		p.yellow.DisableColor()
		p.red.DisableColor()
	}
	return p
}

// Info prints an uncoloured line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Success prints a green line.
func (p *Printer) Success(format string, args ...any) {
	p.green.Fprintf(p.w, format+"\n", args...)
}

// Warn prints a yellow line.
func (p *Printer) Warn(format string, args ...any) {
	p.yellow.Fprintf(p.w, format+"\n", args...)
}

// Error prints a red line.
func (p *Printer) Error(format string, args ...any) {
	p.red.Fprintf(p.w, format+"\n", args...)
}

// Writer exposes the underlying writer for bulk output.
func (p *Printer) Writer() io.Writer {
	return p.w
}
