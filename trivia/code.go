/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package trivia

import "crypto/rand"

// Letters that are hard to confuse when read aloud or typed on a phone.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomCode returns n characters from codeAlphabet, using rejection sampling
// so every character is equally likely.
func RandomCode(n int) string {
	const limit = byte(255 - (256 % len(codeAlphabet)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b <= limit {
				out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
				if len(out) == n {
					return string(out)
				}
			}
		}
	}

	return string(out)
}
