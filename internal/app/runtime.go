package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "DISTROCHAIN_TEST_MODE"

// testMode is read once per process; binaries check it before touching Postgres or Redis.
var testMode = sync.OnceValue(func() bool {
	return parseTestMode(os.Getenv(testModeEnv))
})

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	return testMode()
}

func parseTestMode(raw string) bool {
	on, err := strconv.ParseBool(raw)
	return err == nil && on
}
