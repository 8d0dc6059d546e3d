package main

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/noaknobel/final-project/packages/spreadsheet"
)

// Instruction is one line of an edit script: a write of Content to Addr, or
// a clear
type Instruction struct {
	Line    int
	Addr    spreadsheet.Address
	Content string
	Clear   bool
}

// Rejection is a write the engine refused
type Rejection struct {
	Instruction Instruction
	Err         error
}

// ParseScript reads an edit script. each non-blank line that does not start
// with '#' is either "<REF> <content>" or "clear <REF>". a reference with no
// content clears the cell.
func ParseScript(r io.Reader) ([]Instruction, error) {
	var out []Instruction
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		text = strings.TrimLeft(text, " \t")
		ref, content, _ := strings.Cut(text, " ")
		instr := Instruction{Line: line, Content: content}
		if strings.EqualFold(ref, "clear") {
			ref = strings.TrimSpace(content)
			instr.Content = ""
			instr.Clear = true
		}
		addr, err := spreadsheet.ParseAddress(ref)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		instr.Addr = addr
		if instr.Content == "" {
			instr.Clear = true
		}
		out = append(out, instr)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	return out, nil
}

// Apply runs the instructions in order. refused writes are collected and do
// not stop the script.
func Apply(engine *spreadsheet.Engine, instructions []Instruction) []Rejection {
	var rejections []Rejection
	for _, instr := range instructions {
		if instr.Clear {
			engine.ClearCell(instr.Addr)
			continue
		}
		if err := engine.SetCell(instr.Addr, instr.Content); err != nil {
			rejections = append(rejections, Rejection{Instruction: instr, Err: err})
		}
	}
	return rejections
}
