package element

// HasWildcard reports whether pattern contains a glob metacharacter.
func HasWildcard(pattern string) bool {
	for _, r := range pattern {
		if r == '*' || r == '?' {
			return true
		}
	}
	return false
}

// Glob matches text against pattern, where '*' matches any run of
// characters (including none) and '?' matches exactly one character.
// Patterns without wildcards fall back to exact equality. Matching is
// computed by dynamic programming over rune sequences so multi-byte
// UTF-8 text is compared rune-by-rune, not byte-by-byte.
func Glob(pattern, text string) bool {
	if !HasWildcard(pattern) {
		return pattern == text
	}

	pat := []rune(pattern)
	txt := []rune(text)
	plen, tlen := len(pat), len(txt)

	dp := make([][]bool, plen+1)
	for i := range dp {
		dp[i] = make([]bool, tlen+1)
	}
	dp[0][0] = true

	for i := 1; i <= plen; i++ {
		if pat[i-1] == '*' {
			dp[i][0] = dp[i-1][0]
		}
	}

	for i := 1; i <= plen; i++ {
		for j := 1; j <= tlen; j++ {
			switch {
			case pat[i-1] == '*':
				dp[i][j] = dp[i-1][j] || dp[i][j-1]
			case pat[i-1] == '?' || pat[i-1] == txt[j-1]:
				dp[i][j] = dp[i-1][j-1]
			}
		}
	}

	return dp[plen][tlen]
}
