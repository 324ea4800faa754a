package compile

import (
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// patternCache keeps compiled pattern-rule regexes across compiles, so
// watch mode does not recompile unchanged patterns on every source
// change.
var patternCache, _ = lru.New[string, *regexp.Regexp](256)

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Add(pattern, re)
	return re, nil
}
