package importer

import "strings"

type altBlock struct {
	start, end   int
	alternatives []string
}

// nextAltBlock finds the next "[x[a|b]y]" style block at or after from. The
// two alternatives are everything between the outer brackets on either side of
// the pipe, with brackets removed.
func nextAltBlock(s string, from int) (altBlock, bool) {
	find := func(sub string, after int) int {
		if after > len(s) {
			return -1
		}
		i := strings.Index(s[after:], sub)
		if i < 0 {
			return -1
		}
		return after + i
	}

	i1 := find("[", from)
	if i1 < 0 {
		return altBlock{}, false
	}
	i2 := find("[", i1+1)
	if i2 < 0 {
		return altBlock{}, false
	}
	i3 := find("|", i2+1)
	if i3 < 0 {
		return altBlock{}, false
	}
	i4 := find("]", i3+1)
	if i4 < 0 {
		return altBlock{}, false
	}
	i5 := find("]", i4+1)
	if i5 < 0 {
		return altBlock{}, false
	}

	first := strings.ReplaceAll(s[i1:i3], "[", "")
	second := strings.ReplaceAll(s[i3+1:i5], "]", "")
	return altBlock{start: i1, end: i5, alternatives: unique([]string{first, second})}, true
}

// ExpandAlternatives returns every sentence a generated example stands for,
// e.g. "[[vraag|Vraag]] stellen" yields "vraag stellen" and "Vraag stellen".
func ExpandAlternatives(s string) []string {
	var blocks []altBlock
	for b, ok := nextAltBlock(s, 0); ok; b, ok = nextAltBlock(s, b.end) {
		blocks = append(blocks, b)
	}

	result := []string{s}
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		next := make([]string, 0, len(result)*len(b.alternatives))
		for _, alt := range b.alternatives {
			for _, entry := range result {
				next = append(next, entry[:b.start]+alt+entry[b.end+1:])
			}
		}
		result = next
	}
	return result
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
