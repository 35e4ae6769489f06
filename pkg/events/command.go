package events

import "strings"

// ParseCommand parses "/name@bot arg1 arg2" into ("name", ["arg1", "arg2"]).
// It returns an empty name when text is not a command.
func ParseCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}
