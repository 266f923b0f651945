package codegen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	addressType = "address"
	boolType    = "bool"
	stringType  = "string"
	bytesType   = "bytes"

	bigIntType = "serde.BigInt"
	hashType   = "common.Hash"
)

var fixedArraySuffix = regexp.MustCompile(`\[(\d+)\]$`)

// IsArray reports whether solidityType is a dynamic or fixed-size array.
func IsArray(solidityType string) bool {
	return strings.HasSuffix(solidityType, "[]") || fixedArraySuffix.MatchString(solidityType)
}

// IsDynamic reports whether values of solidityType are hashed when indexed.
func IsDynamic(solidityType string) bool {
	return solidityType == stringType || solidityType == bytesType || IsArray(solidityType)
}

func arrayBase(solidityType string) (base, prefix string) {
	if strings.HasSuffix(solidityType, "[]") {
		return strings.TrimSuffix(solidityType, "[]"), "[]"
	}
	if m := fixedArraySuffix.FindStringSubmatch(solidityType); m != nil {
		return strings.TrimSuffix(solidityType, m[0]), "[" + m[1] + "]"
	}
	return solidityType, ""
}

func intSize(solidityType string) (size int, signed bool, ok bool) {
	var digits string
	switch {
	case strings.HasPrefix(solidityType, "uint"):
		digits = strings.TrimPrefix(solidityType, "uint")
	case strings.HasPrefix(solidityType, "int"):
		digits, signed = strings.TrimPrefix(solidityType, "int"), true
	default:
		return 0, false, false
	}

	if digits == "" {
		return 256, signed, true //nolint:mnd
	}
	size, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false, false
	}
	return size, signed, true
}

// ArgTypeName is the Go type the ABI decoder produces for a parameter.
// Indexed dynamic values only carry their keccak hash in the topic.
func ArgTypeName(param EventParam) string {
	if param.Indexed && IsDynamic(param.Type) {
		return hashType
	}
	return argType(param.Type)
}

func argType(solidityType string) string {
	if base, prefix := arrayBase(solidityType); prefix != "" {
		return prefix + argType(base)
	}

	switch solidityType {
	case addressType:
		return "common.Address"
	case boolType, stringType:
		return solidityType
	case bytesType:
		return "[]byte"
	}

	if strings.HasPrefix(solidityType, bytesType) {
		return "[" + strings.TrimPrefix(solidityType, bytesType) + "]byte"
	}

	if size, signed, ok := intSize(solidityType); ok {
		switch size {
		case 8, 16, 32, 64: //nolint:mnd
			if signed {
				return fmt.Sprintf("int%d", size)
			}
			return fmt.Sprintf("uint%d", size)
		default:
			return "*big.Int"
		}
	}

	return "any"
}

// GoTypeName is the type of the entity field storing a parameter. Integers
// the decoder returns as *big.Int become serde.BigInt and round-trip as
// decimal strings.
func GoTypeName(param EventParam) string {
	if param.Indexed && IsDynamic(param.Type) {
		return hashType
	}
	if IsArray(param.Type) {
		return argType(param.Type)
	}

	switch {
	case param.Type == bytesType:
		return "[]byte"
	case param.Type == "bytes32":
		return hashType
	case strings.HasPrefix(param.Type, bytesType):
		return "[]byte"
	}

	switch argType(param.Type) {
	case "*big.Int":
		return bigIntType
	case "int8", "int16", "int32", "int64":
		return "int64"
	case "uint8", "uint16", "uint32", "uint64":
		return "uint64"
	}

	return argType(param.Type)
}

// ConvertExpr turns the decoded argument held in variable v into the value
// of the entity field.
func ConvertExpr(param EventParam, v string) string {
	arg, field := ArgTypeName(param), GoTypeName(param)
	switch {
	case arg == field:
		return v
	case field == bigIntType:
		return "serde.BigIntFrom(" + v + ")"
	case field == hashType:
		return "common.Hash(" + v + ")"
	case field == "[]byte":
		return v + "[:]"
	default:
		return field + "(" + v + ")"
	}
}

// IndexKeyExpr returns the indexkey expression ordering entities by the field
// expression f, or "" when the field type has no sortable encoding.
func IndexKeyExpr(param EventParam, f string) string {
	switch GoTypeName(param) {
	case "common.Address":
		return "addressKey(" + f + ")"
	case hashType:
		return "indexkey.NormalizeString(" + f + ".Hex())"
	case "uint64":
		return "indexkey.EncodeUint64(" + f + ")"
	case "int64":
		return "indexkey.EncodeInt64(" + f + ")"
	case bigIntType:
		return "indexkey.EncodeInt(" + f + ".Big())"
	case stringType:
		return "indexkey.EncodeString(" + f + ")"
	default:
		return ""
	}
}

// JSONFieldName is the snake_case JSON name of a parameter.
func JSONFieldName(paramName string) string {
	return ToSnakeCase(paramName)
}

// ToSnakeCase converts a string from camelCase or PascalCase to snake_case.
func ToSnakeCase(s string) string {
	result := make([]rune, 0, 2*len(s)) //nolint:mnd
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '_')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// ToPascalCase converts a string to PascalCase. Existing inner capitals are
// kept, so tokenId becomes TokenId.
func ToPascalCase(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})

	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}

	return strings.Join(parts, "")
}

// ToLowerCamelCase converts a string to lowerCamelCase.
func ToLowerCamelCase(s string) string {
	pascal := ToPascalCase(s)
	if pascal == "" {
		return pascal
	}
	return strings.ToLower(pascal[:1]) + pascal[1:]
}
