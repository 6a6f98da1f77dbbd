package ssh

import "strings"

// posixLocale is used for whichever locale variable is not configured.
const posixLocale = "C"

// Locale pins LANG and LC_ALL on the remote shell. The zero value disables it.
type Locale struct {
	Lang  string
	LCAll string
}

// Enabled reports whether either variable is configured.
func (l Locale) Enabled() bool {
	return l.Lang != "" || l.LCAll != ""
}

func (l Locale) prefix() string {
	lang, lcAll := l.Lang, l.LCAll
	if lang == "" {
		lang = posixLocale
	}
	if lcAll == "" {
		lcAll = posixLocale
	}
	return "export LANG=" + shellWord(lang) + " LC_ALL=" + shellWord(lcAll) + " && "
}

// BuildCommand composes the command sent to the remote shell. The cwd wrap
// is applied first and the locale prefix covers the whole compound.
func BuildCommand(locale Locale, command, cwd string) string {
	composed := command
	if cwd != "" {
		composed = "cd " + doubleQuote(cwd) + " && " + command
	}
	if locale.Enabled() {
		composed = locale.prefix() + composed
	}
	return composed
}

// doubleQuote quotes s for a POSIX shell. Inside double quotes only
// backslash, double quote, dollar and backtick stay special.
func doubleQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"', '$', '`':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// shellWord leaves plain locale tokens bare and quotes anything else.
func shellWord(s string) string {
	for _, r := range s {
		isPlain := r == '.' || r == '_' || r == '-' || r == '@' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isPlain {
			return doubleQuote(s)
		}
	}
	return s
}
