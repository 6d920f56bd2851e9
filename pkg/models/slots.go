package models

import "fmt"

// SlotName names one of the four buffers edited when no file is selected.
type SlotName string

const (
	SlotHTML   SlotName = "html"
	SlotCSS    SlotName = "css"
	SlotJS     SlotName = "js"
	SlotScript SlotName = "script"
)

// AllSlots lists the slot names in display order.
func AllSlots() []SlotName {
	return []SlotName{SlotHTML, SlotCSS, SlotJS, SlotScript}
}

// ParseSlot validates a slot name.
func ParseSlot(s string) (SlotName, error) {
	switch SlotName(s) {
	case SlotHTML, SlotCSS, SlotJS, SlotScript:
		return SlotName(s), nil
	}
	return "", fmt.Errorf("unknown slot %q", s)
}

// Language returns the language tag of the slot's buffer.
func (s SlotName) Language() string {
	switch s {
	case SlotHTML:
		return "html"
	case SlotCSS:
		return "css"
	case SlotJS:
		return "javascript"
	}
	return "javascript"
}

// Slots is the record of the four named buffers.
type Slots struct {
	HTML   string `json:"html"`
	CSS    string `json:"css"`
	JS     string `json:"js"`
	Script string `json:"script"`
}

// Get returns the content of one slot.
func (s Slots) Get(name SlotName) string {
	switch name {
	case SlotHTML:
		return s.HTML
	case SlotCSS:
		return s.CSS
	case SlotJS:
		return s.JS
	case SlotScript:
		return s.Script
	}
	return ""
}

// With returns a copy of s with one slot replaced. Unknown names leave s unchanged.
func (s Slots) With(name SlotName, content string) Slots {
	switch name {
	case SlotHTML:
		s.HTML = content
	case SlotCSS:
		s.CSS = content
	case SlotJS:
		s.JS = content
	case SlotScript:
		s.Script = content
	}
	return s
}
