package props

import "github.com/gpac-go/fgraph/pkg/fourcc"

// Key is either a built-in 4CC code or a dynamic UTF-8 name. The two
// namespaces are disjoint from the lookup API's perspective (spec.md §3):
// a Key built from a Code never equals one built from a Name, even if the
// name happens to spell out four ASCII characters.
type Key struct {
	code   fourcc.Code
	name   string
	isName bool
}

// KeyFromCode builds a built-in property key.
func KeyFromCode(c fourcc.Code) Key { return Key{code: c} }

// KeyFromName builds a dynamic property key.
func KeyFromName(name string) Key { return Key{name: name, isName: true} }

func (k Key) IsName() bool { return k.isName }

func (k Key) Code() fourcc.Code { return k.code }

func (k Key) Name() string { return k.name }

func (k Key) String() string {
	if k.isName {
		return k.name
	}
	return k.code.String()
}
