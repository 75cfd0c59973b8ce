package state

// DefaultTrimKeep is how many messages survive a trim unless configured.
const DefaultTrimKeep = 10

// Trim keeps the last n messages. n <= 0 disables trimming.
// Applying it twice gives the same result as applying it once.
func Trim(n int) Update {
	if n <= 0 {
		return Update{}
	}
	return Update{Messages: Keep{From: -n}}
}
