package password

// MatchesAny reports whether password verifies against any entry of
// history. Entries that are not valid PHC strings are skipped; a history
// written by an older hasher must not lock users out of changing passwords.
func (a *Argon2) MatchesAny(password string, history []string) bool {
	matched := false
	for _, encoded := range history {
		ok, err := a.Verify(password, encoded)
		if err != nil {
			continue
		}
		// Keep going after a hit so the call costs the same either way.
		if ok {
			matched = true
		}
	}
	return matched
}
