package domain

import (
	"strings"

	"golang.org/x/net/html"
)

// Sanitize strips markup from user supplied text and collapses runs of
// whitespace into single spaces. Entities are kept as written, so escaped
// markup is never turned back into tags. Contents of script and style
// elements are dropped.
//
// This is defense in depth for stored text; it does not replace output
// encoding when rendering.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Raw())
			}
		case html.StartTagToken:
			if name, _ := z.TagName(); rawTextElement(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); rawTextElement(name) && skip > 0 {
				skip--
			}
		}
	}
}

// SanitizePtr sanitizes an optional field; empty results become nil.
func SanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	return StringPtr(Sanitize(*s))
}

func rawTextElement(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}

// SplitTags splits a comma separated tag list into a lowercase set.
func SplitTags(tags *string) map[string]struct{} {
	set := make(map[string]struct{})
	if tags == nil {
		return set
	}
	for _, t := range strings.Split(*tags, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}
