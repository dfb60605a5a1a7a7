package decode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StructField describes one member of a struct definition, as reported by
// the caller's struct-definition resolver.
type StructField struct {
	Name string
	Type string
}

// StructResolver looks up the ordered field list of a struct given its
// declaring contract and name, as written in a "struct <Contract>.<Name>"
// type descriptor.
type StructResolver func(contract, name string) ([]StructField, error)

var (
	reLocationSuffix = regexp.MustCompile(`\s+(storage|memory|calldata)(\s+(pointer|ref))?$`)
	reArraySuffix    = regexp.MustCompile(`^(.*?)((?:\[\d*\])+)$`)
	reArrayDim       = regexp.MustCompile(`\[(\d*)\]`)
	reUint           = regexp.MustCompile(`^uint(\d*)$`)
	reInt            = regexp.MustCompile(`^int(\d*)$`)
	reFixedBytes     = regexp.MustCompile(`^bytes(\d+)$`)
	reStruct         = regexp.MustCompile(`^struct\s+(\w+)\.(\w+)$`)
)

// ParseType parses a textual type descriptor into a Detail tree, following
// the lexical-recognition order: bool, uint[N], int[N], address, bytesK,
// bytes/string, struct <C>.<N>, mapping(K=>V); array suffixes are peeled
// after the base type is identified. resolver may be nil if no struct
// types are expected.
func ParseType(raw string, resolver StructResolver) (*Detail, error) {
	name := strings.TrimSpace(raw)

	locHint := LocationUnspecified
	isPointer := false
	if m := reLocationSuffix.FindStringSubmatch(name); m != nil {
		switch m[1] {
		case "storage":
			locHint = LocationStorage
		case "memory":
			locHint = LocationMemory
		case "calldata":
			locHint = LocationCallData
		}
		isPointer = m[3] == "pointer" || m[3] == "ref"
		name = strings.TrimSpace(name[:len(name)-len(m[0])])
	}

	base, dims := splitArraySuffix(name)

	detail, err := parseBase(base, resolver)
	if err != nil {
		return nil, err
	}

	// Peel dimensions left to right: the bracket closest to the base type
	// wraps first, later brackets wrap outermost-last, matching T[a][b]
	// meaning "array of b elements of T[a]".
	for _, dim := range dims {
		wrapped := &Detail{
			Kind:    KindArray,
			Element: detail,
		}
		if dim == "" {
			wrapped.IsDynamic = true
		} else {
			n, convErr := strconv.Atoi(dim)
			if convErr != nil {
				return nil, fmt.Errorf("decode: invalid array dimension %q in %q", dim, raw)
			}
			wrapped.Length = n
			wrapped.Members = make([]*Detail, n)
			for i := range wrapped.Members {
				wrapped.Members[i] = detail.Clone()
			}
		}
		detail = wrapped
	}

	detail.TypeName = raw
	if locHint != LocationUnspecified {
		detail.LocationOverride = locHint
	}
	detail.IsPointer = isPointer
	return detail, nil
}

// splitArraySuffix separates a trailing run of "[N]"/"[]" groups from the
// base type name, returning the base and the dimension strings in the
// order they appear (left to right, i.e. innermost to outermost).
func splitArraySuffix(name string) (base string, dims []string) {
	m := reArraySuffix.FindStringSubmatch(name)
	if m == nil {
		return name, nil
	}
	base = m[1]
	for _, d := range reArrayDim.FindAllStringSubmatch(m[2], -1) {
		dims = append(dims, d[1])
	}
	return base, dims
}

func parseBase(name string, resolver StructResolver) (*Detail, error) {
	switch {
	case name == "bool":
		return &Detail{Kind: KindValue, ValueKind: ValueBool, Width: 32}, nil

	case reUint.MatchString(name):
		m := reUint.FindStringSubmatch(name)
		return &Detail{Kind: KindValue, ValueKind: ValueUnsigned, Width: bitsToWidth(m[1])}, nil

	case reInt.MatchString(name):
		m := reInt.FindStringSubmatch(name)
		return &Detail{Kind: KindValue, ValueKind: ValueSigned, Width: bitsToWidth(m[1])}, nil

	case name == "address":
		return &Detail{Kind: KindValue, ValueKind: ValueAddress, Width: 20}, nil

	case reFixedBytes.MatchString(name):
		m := reFixedBytes.FindStringSubmatch(name)
		k, err := strconv.Atoi(m[1])
		if err != nil || k < 1 || k > 32 {
			return nil, fmt.Errorf("decode: invalid fixed byte width in %q", name)
		}
		return &Detail{Kind: KindValue, ValueKind: ValueFixedBytes, Width: k}, nil

	case name == "bytes" || name == "string":
		return &Detail{
			Kind:      KindArray,
			IsDynamic: true,
			Element:   &Detail{Kind: KindValue, ValueKind: ValueFixedBytes, Width: 1},
		}, nil

	case reStruct.MatchString(name):
		m := reStruct.FindStringSubmatch(name)
		if resolver == nil {
			return nil, fmt.Errorf("decode: struct type %q requires a struct resolver", name)
		}
		fields, err := resolver(m[1], m[2])
		if err != nil {
			return nil, err
		}
		members := make([]StructMember, 0, len(fields))
		for _, f := range fields {
			fd, err := ParseType(f.Type, resolver)
			if err != nil {
				return nil, err
			}
			members = append(members, StructMember{Name: f.Name, Detail: fd})
		}
		return &Detail{Kind: KindStruct, StructMembers: members}, nil

	case strings.HasPrefix(name, "mapping("):
		key, value, err := splitMapping(name)
		if err != nil {
			return nil, err
		}
		keyDetail, err := ParseType(key, resolver)
		if err != nil {
			return nil, err
		}
		valueDetail, err := ParseType(value, resolver)
		if err != nil {
			return nil, err
		}
		return &Detail{Kind: KindMapping, MapKey: keyDetail, MapValue: valueDetail}, nil

	default:
		return nil, fmt.Errorf("decode: unrecognized type %q", name)
	}
}

func bitsToWidth(bits string) int {
	if bits == "" {
		return 32
	}
	n, err := strconv.Atoi(bits)
	if err != nil || n <= 0 {
		return 32
	}
	return (n + 7) / 8
}

// splitMapping splits "mapping(K=>V)" into K and V, respecting nested
// parentheses so that a mapping value that is itself a mapping splits
// correctly at the top-level "=>".
func splitMapping(name string) (key, value string, err error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(name, "mapping("), ")")
	depth := 0
	for i := 0; i < len(inner)-1; i++ {
		switch inner[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && inner[i] == '=' && inner[i+1] == '>' {
			return strings.TrimSpace(inner[:i]), strings.TrimSpace(inner[i+2:]), nil
		}
	}
	return "", "", fmt.Errorf("decode: malformed mapping type %q", name)
}
