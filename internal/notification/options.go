package notification

import (
	"fmt"
	"strconv"
	"strings"

	"usagerelay/pkg/errors"
)

// OptionsKey is the image metadata key carrying the license bitfield.
const OptionsKey = "com.rackspace__1__options"

// License is the decoded OS and application license of an instance.
type License struct {
	OS          string
	Application string
}

var licenseBits = map[int]License{
	0:  {OS: "LINUX"},
	1:  {OS: "RHEL"},
	2:  {},
	4:  {OS: "WINDOWS"},
	12: {OS: "WINDOWS", Application: "MSSQL"},
	36: {OS: "WINDOWS", Application: "MSSQL_WEB"},
	64: {OS: "VYATTA"},
}

// DecodeOptions maps an options bitfield to its license. The value may be a
// string or a number. Unknown values are malformed.
func DecodeOptions(raw interface{}) (License, error) {
	bits, err := optionBits(raw)
	if err != nil {
		return License{}, err
	}
	lic, ok := licenseBits[bits]
	if !ok {
		return License{}, errors.ErrMalformedNotification.
			WithMessage("unknown %s value %d", OptionsKey, bits)
	}
	return lic, nil
}

func optionBits(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errors.ErrMalformedNotification.WithCause(err).
				WithMessage("invalid %s value %q", OptionsKey, v)
		}
		return n, nil
	case nil:
		return 0, errors.ErrMalformedNotification.WithMessage("missing %s", OptionsKey)
	default:
		n, ok := toInt64(v)
		if !ok {
			return 0, errors.ErrMalformedNotification.
				WithMessage("invalid %s value %v", OptionsKey, fmt.Sprint(v))
		}
		return int(n), nil
	}
}
