package configtree

import "strings"

// EnvSeparator replaces KeyDelimiter in environment variable names, since
// ':' is not portable there.
const EnvSeparator = "__"

// ApplyEnv overlays entries from environ ("NAME=value") whose name starts
// with prefix. The remainder of the name is split on EnvSeparator, so
// SERVERBIND_Endpoints__Public__Url targets "Endpoints:Public:Url".
// It returns the number of values applied.
func (s *Section) ApplyEnv(prefix string, environ []string) int {
	applied := 0
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(strings.ToUpper(name), strings.ToUpper(prefix)) {
			continue
		}
		path := strings.ReplaceAll(name[len(prefix):], EnvSeparator, KeyDelimiter)
		if len(splitPath(path)) == 0 {
			continue
		}
		s.Set(path, value)
		applied++
	}
	return applied
}
