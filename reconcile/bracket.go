package reconcile

import "regexp"

// InstallLocationColumn stores a human-readable label with the numeric ID
// embedded in brackets, e.g. "Flur [12]". Only the ID is persisted.
const InstallLocationColumn = "Einbauort"

var bracketID = regexp.MustCompile(`\[(\d+)\]`)

// ExtractBracketID pulls the numeric ID out of a bracketed label. The last
// bracket group wins when the label itself contains brackets. Returns
// ok=false when the value carries no extractable ID.
func ExtractBracketID(v any) (string, bool) {
	s, isString := v.(string)
	if !isString {
		return "", false
	}
	matches := bracketID.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}
