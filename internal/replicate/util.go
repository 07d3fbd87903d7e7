package replicate

import "strings"

func strEqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

func hasPrefixFold(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}
