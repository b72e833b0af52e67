package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/officefloor/officefloor/internal/escalation"
	"github.com/officefloor/officefloor/internal/function"
)

// FileWriter is satisfied by *workspace.Dir.
type FileWriter interface {
	Write(name string, data []byte) (string, error)
}

// fileWriteSource builds functions storing their parameter as a file in the
// workspace given as first object. Strings and byte slices are written as
// is, anything else as JSON. The result is the file path.
type fileWriteSource struct{}

func (fileWriteSource) Function(ctx function.SourceContext) (function.Function, error) {
	if len(ctx.Objects()) == 0 {
		return nil, fmt.Errorf("%s needs a workspace as its first object", ctx.Name())
	}
	name := ctx.Property("name", "parameter.json")
	return function.Func(func(fc function.Context) (any, error) {
		obj, err := fc.Object(0)
		if err != nil {
			return nil, err
		}
		w, ok := obj.(FileWriter)
		if !ok {
			return nil, fmt.Errorf("%w: object %T cannot store files", escalation.ErrIllegalArgument, obj)
		}

		var data []byte
		switch p := fc.Parameter().(type) {
		case string:
			data = []byte(p)
		case []byte:
			data = p
		default:
			if data, err = json.Marshal(p); err != nil {
				return nil, fmt.Errorf("%w: encode parameter: %v", escalation.ErrIllegalArgument, err)
			}
		}
		return w.Write(name, data)
	}), nil
}
