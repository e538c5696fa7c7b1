package ingest

// Dedupe merges entries by key with last-write-wins semantics. The result
// keeps the position of each key's first occurrence, holding the value of
// its last one.
func Dedupe[T any, K comparable](entries []T, key func(T) K) []T {
	index := make(map[K]int, len(entries))
	out := make([]T, 0, len(entries))
	for _, entry := range entries {
		k := key(entry)
		if pos, ok := index[k]; ok {
			out[pos] = entry
			continue
		}
		index[k] = len(out)
		out = append(out, entry)
	}
	return out
}

// DedupeMap is Dedupe returning the merged mapping.
func DedupeMap[T any, K comparable](entries []T, key func(T) K) map[K]T {
	seen := make(map[K]T, len(entries))
	for _, entry := range entries {
		seen[key(entry)] = entry
	}
	return seen
}

// DedupeItems collapses duplicate listing entries of one source.
func DedupeItems(source string, items []Item) []Item {
	return Dedupe(items, func(it Item) Key {
		return Key{Source: source, ID: it.Identity()}
	})
}
