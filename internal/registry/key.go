package registry

import (
	"fmt"
	"strings"
)

// Key is a qualified method key: the namespace and method name of an
// advertised operation.
type Key struct {
	Namespace string
	Name      string
}

// String renders the key in Clark notation, "{namespace}name".
func (k Key) String() string {
	return "{" + k.Namespace + "}" + k.Name
}

// ParseKey parses the Clark notation produced by Key.String. A string with
// no braces is a name in the empty namespace.
func ParseKey(s string) (Key, error) {
	if !strings.HasPrefix(s, "{") {
		if s == "" {
			return Key{}, fmt.Errorf("empty method key")
		}
		return Key{Name: s}, nil
	}
	end := strings.IndexByte(s, '}')
	if end < 0 {
		return Key{}, fmt.Errorf("method key %q: missing closing brace", s)
	}
	k := Key{Namespace: s[1:end], Name: s[end+1:]}
	if k.Name == "" {
		return Key{}, fmt.Errorf("method key %q: missing method name", s)
	}
	return k, nil
}
