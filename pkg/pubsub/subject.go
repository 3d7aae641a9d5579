/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pubsub

import (
	"fmt"
	"strings"

	"github.com/p13marc/zensight-sub001/pkg/models"
)

const (
	subjectSeparator = "."
	subjectWildcard  = "*"
	subjectFullWild  = ">"

	cacheSubjectPrefix     = "_ZCACHE."
	heartbeatSubjectPrefix = "_ZHB."
	detectSubjectPrefix    = "_ZPUB."

	hexDigits = "0123456789ABCDEF"
)

// KeyToSubject maps a slash separated key expression onto a NATS subject. Inside a
// segment '%', '.', '*', '>' and whitespace are percent escaped; a trailing "**"
// becomes '>' and a lone "*" stays a single token wildcard.
func KeyToSubject(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, errEmptySegment)
	}

	segments := strings.Split(key, models.KeySeparator)
	tokens := make([]string, len(segments))

	for i, seg := range segments {
		switch seg {
		case "":
			return "", fmt.Errorf("%w: %w in %q", ErrInvalidKey, errEmptySegment, key)
		case models.MultiWildcard:
			if i != len(segments)-1 {
				return "", fmt.Errorf("%w: %w in %q", ErrInvalidKey, errMisplacedWild, key)
			}

			tokens[i] = subjectFullWild
		case subjectWildcard:
			tokens[i] = subjectWildcard
		default:
			tokens[i] = escapeSegment(seg)
		}
	}

	return strings.Join(tokens, subjectSeparator), nil
}

// SubjectToKey reverses KeyToSubject.
func SubjectToKey(subject string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, errEmptySegment)
	}

	tokens := strings.Split(subject, subjectSeparator)
	segments := make([]string, len(tokens))

	for i, tok := range tokens {
		switch tok {
		case "":
			return "", fmt.Errorf("%w: %w in %q", ErrInvalidKey, errEmptySegment, subject)
		case subjectFullWild:
			if i != len(tokens)-1 {
				return "", fmt.Errorf("%w: %w in %q", ErrInvalidKey, errMisplacedWild, subject)
			}

			segments[i] = models.MultiWildcard
		case subjectWildcard:
			segments[i] = subjectWildcard
		default:
			seg, err := unescapeSegment(tok)
			if err != nil {
				return "", fmt.Errorf("%w: %w in %q", ErrInvalidKey, err, subject)
			}

			segments[i] = seg
		}
	}

	return strings.Join(segments, models.KeySeparator), nil
}

func needsEscape(c byte) bool {
	switch c {
	case '%', '.', '*', '>', ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}

	return c < 0x20 || c == 0x7f
}

func escapeSegment(seg string) string {
	var b strings.Builder

	b.Grow(len(seg))

	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if !needsEscape(c) {
			b.WriteByte(c)

			continue
		}

		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}

	return b.String()
}

func unescapeSegment(tok string) (string, error) {
	if !strings.Contains(tok, "%") {
		return tok, nil
	}

	var b strings.Builder

	b.Grow(len(tok))

	for i := 0; i < len(tok); i++ {
		if tok[i] != '%' {
			b.WriteByte(tok[i])

			continue
		}

		if i+2 >= len(tok) {
			return "", errBadEscape
		}

		hi, ok1 := fromHex(tok[i+1])
		lo, ok2 := fromHex(tok[i+2])

		if !ok1 || !ok2 {
			return "", errBadEscape
		}

		b.WriteByte(hi<<4 | lo)

		i += 2
	}

	return b.String(), nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}

	return 0, false
}

// subjectMatches reports whether a concrete subject is matched by pattern,
// honoring the '*' and '>' wildcards.
func subjectMatches(pattern, subject string) bool {
	pTokens := strings.Split(pattern, subjectSeparator)
	sTokens := strings.Split(subject, subjectSeparator)

	for i, p := range pTokens {
		if p == subjectFullWild {
			return len(sTokens) > i
		}

		if i >= len(sTokens) {
			return false
		}

		if p != subjectWildcard && p != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

func cacheSubject(subject string) string { return cacheSubjectPrefix + subject }

func heartbeatSubject(subject string) string { return heartbeatSubjectPrefix + subject }

// detectSubject is shared by every publisher under the same root token so a single
// request reaches all of them; the requested pattern travels in the payload.
func detectSubject(subject string) string {
	root, _, _ := strings.Cut(subject, subjectSeparator)

	return detectSubjectPrefix + root
}
