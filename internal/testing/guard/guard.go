package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("MEISHI_TEST_MODE") == "" {
			_ = os.Setenv("MEISHI_TEST_MODE", "1")
		}
	})
}
