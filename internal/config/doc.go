// Package config provides loading and environment overlay for bucface
// configuration. Default() is the baseline; Load reads JSON or YAML on top of
// it and FromEnv applies BUCFACE_* overrides.
//
// Example:
//
//	cfg, err := config.Load("/etc/bucface.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{DataDir: config.DefaultDataDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
package config
