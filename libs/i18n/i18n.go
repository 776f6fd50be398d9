// Package i18n holds display text keyed by language code.
package i18n

import (
	"sort"
	"strings"
)

// Fallback languages tried, in order, after the requested one.
var Fallback = []string{"de", "en"}

// Supported lists the languages the studio publishes content in.
var Supported = []string{"de", "en", "fr"}

// Text maps a lowercase language code to a string.
type Text map[string]string

// Resolve returns the text for lang, falling back to de, then en, then any non-empty entry
// (lowest language code first, so the result is stable).
func (t Text) Resolve(lang string) string {
	lang = Normalize(lang)
	if v := t[lang]; v != "" {
		return v
	}
	for _, fb := range Fallback {
		if v := t[fb]; v != "" {
			return v
		}
	}
	keys := make([]string, 0, len(t))
	for k, v := range t {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return t[keys[0]]
}

// Normalize reduces a language tag such as "fr-CH" or "EN_us" to its primary subtag.
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return lang
}

// FromAcceptLanguage picks the first supported language in an Accept-Language header.
// Quality values are ignored; browsers already send the list in preference order.
func FromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := part
		if i := strings.IndexByte(tag, ';'); i >= 0 {
			tag = tag[:i]
		}
		tag = Normalize(tag)
		for _, s := range Supported {
			if tag == s {
				return s
			}
		}
	}
	return ""
}

// Format fills {name} placeholders in every translation.
func (t Text) Format(args map[string]string) Text {
	if len(args) == 0 {
		return t
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	out := make(Text, len(t))
	for k, v := range t {
		out[k] = r.Replace(v)
	}
	return out
}
