package manifest

import (
	"strings"

	"github.com/openfroyo/patchwork/pkg/engine"
)

// ParseParameterArgs converts "@name:value" arguments into parameter
// overrides. The value may contain colons; a missing sigil is added.
func ParseParameterArgs(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, engine.NewParseError(engine.ErrCodeInvalidParameterName,
				"parameter %q must have the form @name:value", arg)
		}
		name = strings.TrimSpace(name)
		if !strings.HasPrefix(name, engine.VariableSigil) {
			name = engine.VariableSigil + name
		}
		if !parameterPattern.MatchString(name) {
			return nil, engine.NewParseError(engine.ErrCodeInvalidParameterName, "invalid parameter name %q", name)
		}
		if _, dup := params[name]; dup {
			return nil, engine.NewParseError(engine.ErrCodeDuplicatedParameter, "parameter %s is given twice", name)
		}
		params[name] = value
	}
	return params, nil
}
