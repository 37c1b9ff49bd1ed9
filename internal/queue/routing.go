package queue

import "strings"

// Match reports whether a routing key matches a binding pattern. Patterns
// are dot-separated words where '*' matches exactly one word and '#' matches
// zero or more words, the topic-exchange convention.
func Match(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		// '#' either consumes nothing or one word and stays greedy.
		if matchWords(pattern[1:], key) {
			return true
		}
		return len(key) > 0 && matchWords(pattern, key[1:])
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
