// Package all imports every metadata backend so core.Open can resolve
// their URL schemes.
//
// Import this package for its side effects:
//
//	import (
//		"github.com/git-pkgs/ministry"
//		_ "github.com/git-pkgs/ministry/all"
//	)
//
//	backend, err := ministry.OpenBackend("pebble:///var/lib/ministry")
//	// ministry.SupportedBackends() == ["memory", "pebble", "redis", "rediss"]
package all

import (
	_ "github.com/git-pkgs/ministry/internal/backend/pebble"
	_ "github.com/git-pkgs/ministry/internal/backend/redis"
)
