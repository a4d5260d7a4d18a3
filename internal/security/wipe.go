package security

// WipeBytes zeroes a byte slice holding a secret.
func WipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
