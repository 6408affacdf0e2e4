package remap

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// State classifies the mapping currently stored by the utility.
type State string

const (
	StateApplied State = "applied"
	StateCleared State = "cleared"
	StateOther   State = "other"
)

// Status is the outcome of a state query.
type Status struct {
	State    State
	Mappings []Mapping
}

var (
	mappingBlock = regexp.MustCompile(`\{[^{}]*\}`)
	mappingField = regexp.MustCompile(`HIDKeyboardModifierMapping(Src|Dst)"?\s*[=:]\s*(0[xX][0-9a-fA-F]+|[0-9]+)`)
)

// Query asks the utility for the stored UserKeyMapping and classifies it.
func (a *Applier) Query(ctx context.Context) (Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := a.run(ctx, "property", "--get", "UserKeyMapping")
	if err != nil {
		return Status{}, err
	}
	mappings, err := ParseMappings(string(res.Output))
	if err != nil {
		return Status{}, err
	}
	return Status{State: Classify(mappings), Mappings: mappings}, nil
}

// ParseMappings extracts mappings from the utility's property dump. Both the
// plist-style output (decimal values) and the JSON form accepted by --set are understood.
func ParseMappings(output string) ([]Mapping, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" || trimmed == "(null)" {
		return nil, nil
	}

	var mappings []Mapping
	for _, block := range mappingBlock.FindAllString(trimmed, -1) {
		var m Mapping
		var haveSrc, haveDst bool
		for _, field := range mappingField.FindAllStringSubmatch(block, -1) {
			value, err := strconv.ParseUint(field[2], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s value %q: %w", field[1], field[2], err)
			}
			switch field[1] {
			case "Src":
				m.Src, haveSrc = Usage(value), true
			case "Dst":
				m.Dst, haveDst = Usage(value), true
			}
		}
		if !haveSrc && !haveDst {
			continue
		}
		if !haveSrc || !haveDst {
			return nil, fmt.Errorf("incomplete mapping entry %q", strings.Join(strings.Fields(block), " "))
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// Classify maps parsed mappings onto a State.
func Classify(mappings []Mapping) State {
	switch {
	case len(mappings) == 0:
		return StateCleared
	case len(mappings) == 1 && mappings[0] == (Mapping{Src: UsageCapsLock, Dst: UsageEscape}):
		return StateApplied
	default:
		return StateOther
	}
}
