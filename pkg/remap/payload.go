package remap

import (
	"fmt"
	"strings"
)

// Usage is a keyboard usage code in the USB HID usage-table numbering space,
// with the usage page folded into the upper bits as the HID property utility expects.
type Usage uint64

const (
	// UsageCapsLock identifies the physical Caps Lock key.
	UsageCapsLock Usage = 0x700000039
	// UsageEscape identifies the physical Escape key.
	UsageEscape Usage = 0x70000002a
)

// String renders the usage as a lowercase hexadecimal literal.
func (u Usage) String() string {
	return fmt.Sprintf("0x%x", uint64(u))
}

// Mapping substitutes the reported identity of Src with Dst.
type Mapping struct {
	Src Usage
	Dst Usage
}

// Kind names one of the two payload variants.
type Kind string

const (
	KindApply Kind = "apply"
	KindClear Kind = "clear"
)

// Payload is an immutable UserKeyMapping property value.
type Payload struct {
	kind     Kind
	mappings []Mapping
	literal  string
}

var (
	// Apply reports Caps Lock as Escape.
	Apply = newPayload(KindApply, Mapping{Src: UsageCapsLock, Dst: UsageEscape})
	// Clear removes every user mapping, restoring default key identities.
	Clear = newPayload(KindClear)
)

func newPayload(kind Kind, mappings ...Mapping) Payload {
	return Payload{
		kind:     kind,
		mappings: mappings,
		literal:  render(mappings),
	}
}

// render writes the property literal by hand: the utility accepts hexadecimal
// integers, which encoding/json cannot produce.
func render(mappings []Mapping) string {
	var b strings.Builder
	b.WriteString(`{"UserKeyMapping":[`)
	for i, m := range mappings {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"HIDKeyboardModifierMappingSrc":%s,"HIDKeyboardModifierMappingDst":%s}`, m.Src, m.Dst)
	}
	b.WriteString(`]}`)
	return b.String()
}

// Kind reports which variant the payload is.
func (p Payload) Kind() Kind {
	return p.kind
}

// Mappings returns a copy of the payload's mappings.
func (p Payload) Mappings() []Mapping {
	return append([]Mapping(nil), p.mappings...)
}

// String returns the serialized property value.
func (p Payload) String() string {
	return p.literal
}

// SetArgs returns the utility arguments that store the payload.
func (p Payload) SetArgs() []string {
	return []string{"property", "--set", p.literal}
}
