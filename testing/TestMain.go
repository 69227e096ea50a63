package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("DATEAPP_ADMIN_TEST_MODE", "1")
		if os.Getenv("REVEAL_SECRET") == "" {
			_ = os.Setenv("REVEAL_SECRET", "test-reveal-secret")
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
