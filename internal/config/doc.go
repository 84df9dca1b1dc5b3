// Package config loads canvasd and mathapi settings from the environment.
//
// Backends are chosen with CANVAS_BROKER and CANVAS_RESULT_BACKEND
// ("memory", "redis" or "sqlite" for results). Redis settings are only
// validated when a Redis backend is selected. Every value has a default
// suited to a single-process development run:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if cfg.UsesRedis() {
//	    // connect to cfg.Redis.Addr
//	}
package config
