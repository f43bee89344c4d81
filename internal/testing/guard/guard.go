// Package guard switches the binaries into test mode when imported from a
// test, so calling main never opens database or Redis connections.
package guard

import (
	"os"

	"github.com/aydarnuman/catering-pro-sub001/internal/app"
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
	app.RefreshTestMode()
}
