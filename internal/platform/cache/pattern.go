package cache

// matchPattern reports whether key matches a Redis-style glob pattern.
//
// Supported syntax:
//   - *       any run of characters, including none
//   - ?       exactly one character
//   - [abc]   one character from the set, [^abc] or [!abc] negated, [a-z] ranges
//   - \x      the literal character x
//
// An unterminated class matches a literal '['. Matching is on bytes, as Redis does.
func matchPattern(pattern, key string) bool {
	p, k := 0, 0
	// Backtracking point for the last '*' seen.
	starP, starK := -1, 0

	for k < len(key) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				for p < len(pattern) && pattern[p] == '*' {
					p++
				}
				if p == len(pattern) {
					return true
				}
				starP, starK = p, k
				continue
			case '?':
				p++
				k++
				continue
			case '[':
				if end, ok := classEnd(pattern, p); ok {
					if matchClass(pattern[p+1:end], key[k]) {
						p = end + 1
						k++
						continue
					}
				} else if key[k] == '[' {
					p++
					k++
					continue
				}
			case '\\':
				if p+1 < len(pattern) {
					if pattern[p+1] == key[k] {
						p += 2
						k++
						continue
					}
					break
				}
				if key[k] == '\\' {
					p++
					k++
					continue
				}
			default:
				if pattern[p] == key[k] {
					p++
					k++
					continue
				}
			}
		}

		if starP < 0 {
			return false
		}
		starK++
		p, k = starP, starK
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// classEnd returns the index of the ']' closing the class opened at start.
func classEnd(pattern string, start int) (int, bool) {
	i := start + 1
	if i < len(pattern) && (pattern[i] == '^' || pattern[i] == '!') {
		i++
	}
	// A ']' right after the opening bracket is a literal member.
	if i < len(pattern) && pattern[i] == ']' {
		i++
	}
	for i < len(pattern) {
		switch pattern[i] {
		case '\\':
			i += 2
			continue
		case ']':
			return i, true
		}
		i++
	}
	return 0, false
}

// matchClass matches c against the body of a bracket expression.
func matchClass(class string, c byte) bool {
	negate := false
	if len(class) > 0 && (class[0] == '^' || class[0] == '!') {
		negate = true
		class = class[1:]
	}

	matched := false
	for i := 0; i < len(class); i++ {
		lo := class[i]
		if lo == '\\' && i+1 < len(class) {
			i++
			lo = class[i]
		}
		if i+2 < len(class) && class[i+1] == '-' {
			hi := class[i+2]
			if hi == '\\' && i+3 < len(class) {
				hi = class[i+3]
				i++
			}
			i += 2
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			continue
		}
		if c == lo {
			matched = true
		}
	}

	return matched != negate
}
