package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv disables network side effects of the binaries when true.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var inTestMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
})

// InTestMode reports whether the binaries should skip connecting to
// Postgres and Redis. The flag is read once per process.
func InTestMode() bool {
	return inTestMode()
}
