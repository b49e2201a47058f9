// Package demux splits a streamed character sequence into visible text and
// <think>…</think> spans.
//
// Characters are held in a sliding window so that tags straddling token
// boundaries are still detected; a character leaves the window only once it
// provably cannot belong to a tag prefix. Output is a deterministic
// function of input: the concatenated visible events plus the drained
// visible tail equal the input with all think spans and their tags removed.
package demux

import (
	"strings"
	"unicode/utf8"
)

const (
	openTag  = "<think>"
	closeTag = "</think>"

	// DefaultWindow comfortably covers both tags.
	DefaultWindow = 10
)

type Kind int

const (
	Visible Kind = iota
	Think
)

type Event struct {
	Kind Kind
	Text string
}

type state int

const (
	stateOutside state = iota
	stateInside
)

type Demux struct {
	window  int
	state   state
	outside string
	inside  string
}

// New returns a demultiplexer with the given window size, measured in
// characters. Windows smaller than the close tag cannot detect straddled
// tags and are raised to the default.
func New(window int) *Demux {
	if window < len(closeTag) {
		window = DefaultWindow
	}
	return &Demux{window: window}
}

// Feed consumes one character and returns any events it releases. A single
// character can release several events when it completes a tag.
func (d *Demux) Feed(ch rune) []Event {
	return d.push(string(ch))
}

// FeedString consumes a chunk character by character.
func (d *Demux) FeedString(s string) []Event {
	return d.push(s)
}

func (d *Demux) push(s string) []Event {
	var out []Event

	for _, r := range s {
		if d.state == stateOutside {
			d.outside += string(r)

			if i := strings.Index(d.outside, openTag); i >= 0 {
				if i > 0 {
					out = append(out, Event{Visible, d.outside[:i]})
				}
				rest := d.outside[i+len(openTag):]
				d.outside = ""
				d.state = stateInside
				if rest != "" {
					out = append(out, d.push(rest)...)
				}
				continue
			}

			if n := utf8.RuneCountInString(d.outside) - d.window; n > 0 {
				cut := runeOffset(d.outside, n)
				out = append(out, Event{Visible, d.outside[:cut]})
				d.outside = d.outside[cut:]
			}
		} else {
			d.inside += string(r)

			if i := strings.Index(d.inside, closeTag); i >= 0 {
				if i > 0 {
					out = append(out, Event{Think, d.inside[:i]})
				}
				rest := d.inside[i+len(closeTag):]
				d.inside = ""
				d.state = stateOutside
				if rest != "" {
					out = append(out, d.push(rest)...)
				}
				continue
			}

			if n := utf8.RuneCountInString(d.inside) - d.window; n > 0 {
				cut := runeOffset(d.inside, n)
				out = append(out, Event{Think, d.inside[:cut]})
				d.inside = d.inside[cut:]
			}
		}
	}

	return out
}

// runeOffset returns the byte offset of the nth rune in s. The window is
// counted in runes, so overflow slices must land on rune boundaries.
func runeOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

// Drain flushes both windows and resets the demultiplexer to the outside
// state. An unterminated think span drains as think text.
func (d *Demux) Drain() (visible, think string) {
	visible, think = d.outside, d.inside
	d.outside, d.inside = "", ""
	d.state = stateOutside
	return visible, think
}
