package utils

// MaskSecret keeps the first four characters of s, enough to tell tokens apart in logs.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}
