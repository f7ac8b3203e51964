package driveapi

import "math/rand"

// jitterMillis returns a random delay in [0, 200) ms, added on top of the
// exponential backoff base per spec §4.1.
func jitterMillis() int {
	return rand.Intn(200)
}
