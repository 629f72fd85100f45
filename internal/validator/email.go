package validator

import "strings"

// ParsedEmail is the normalized form of one input address. Local and Domain
// are only meaningful when Valid is true.
type ParsedEmail struct {
	Raw    string
	Local  string
	Domain string
	Valid  bool
}

const maxEmailLength = 254

// ParseEmail normalizes and syntax-checks one address. Normalization strips
// surrounding whitespace and a leading "mailto:" prefix and lowercases the
// whole address. The syntax check is deliberately stricter than RFC 5322:
// quoted local parts and address literals are treated as invalid because no
// real mailbox provider issues them.
func ParseEmail(raw string) ParsedEmail {
	email := strings.ToLower(strings.TrimSpace(raw))
	email = strings.TrimPrefix(email, "mailto:")

	p := ParsedEmail{Raw: email}
	if email == "" || len(email) > maxEmailLength {
		return p
	}

	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return p
	}
	local, domain := email[:at], email[at+1:]
	if !validLocal(local) || !validDomain(domain) {
		return p
	}

	p.Local = local
	p.Domain = domain
	p.Valid = true
	return p
}

// validLocal accepts dot-atom local parts: atext runs separated by single
// dots, max 64 octets.
func validLocal(local string) bool {
	if len(local) > 64 {
		return false
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return false
	}
	if strings.Contains(local, "..") {
		return false
	}
	for i := 0; i < len(local); i++ {
		if !isAtext(local[i]) && local[i] != '.' {
			return false
		}
	}
	return true
}

// validDomain accepts LDH hostnames: letter-digit-hyphen labels of at most
// 63 octets, at least two labels, no leading or trailing hyphens.
func validDomain(domain string) bool {
	if len(domain) > 253 {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !('a' <= c && c <= 'z' || '0' <= c && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

func isAtext(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-/=?^_`{|}~", c) >= 0
}
