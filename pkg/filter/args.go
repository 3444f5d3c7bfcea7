package filter

import (
	"github.com/imdario/mergo"

	"github.com/gpac-go/fgraph/pkg/ferr"
	"github.com/gpac-go/fgraph/pkg/props"
)

func toPropsKind(k ArgKind) props.Kind {
	switch k {
	case ArgSint32:
		return props.KindSint32
	case ArgUint32:
		return props.KindUint32
	case ArgSint64:
		return props.KindSint64
	case ArgUint64:
		return props.KindUint64
	case ArgBool:
		return props.KindBool
	case ArgFraction:
		return props.KindFraction
	case ArgDouble:
		return props.KindDouble
	case ArgData:
		return props.KindData
	default:
		return props.KindString
	}
}

// ParseArgs resolves inst's final argument set from the caller-provided
// raw strings and the registration's declared defaults (spec.md §4.D,
// §6). Provided values win; missing ones fall back to each ArgSpec's
// Default, folded in with mergo.Merge the way the teacher folds Helm
// values (pkg/charts) — here over a plain string map instead of a chart's
// values tree. Each resolved value is then parsed per its declared Kind
// (or passed through raw for MetaArg entries, spec.md GLOSSARY "Meta
// filter") and applied via Instance.ApplyArg.
func ParseArgs(inst *Instance, provided map[string]string) error {
	defaults := make(map[string]string)
	for _, spec := range inst.Reg.Args {
		if spec.Default != "" {
			defaults[spec.Name] = spec.Default
		}
	}

	merged := make(map[string]string, len(provided)+len(defaults))
	for k, v := range provided {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, defaults); err != nil {
		return ferr.Wrap(ferr.BadParam, err, "merging argument defaults")
	}

	for _, spec := range inst.Reg.Args {
		text, given := merged[spec.Name]
		if !given {
			continue
		}

		var v props.Value
		var err error
		if spec.MetaArg {
			v = props.NewString(text)
		} else {
			v, err = props.Parse(toPropsKind(spec.Kind), text, spec.Enum)
			if err != nil {
				return err
			}
		}
		if err := inst.ApplyArg(spec, v); err != nil {
			return err
		}
	}
	return nil
}
