package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("AUTH_JWT_SECRET") == "" {
			_ = os.Setenv("AUTH_JWT_SECRET", "test-secret-do-not-use")
		}
		if os.Getenv("AUDIT_MODE") == "" {
			_ = os.Setenv("AUDIT_MODE", "log")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
