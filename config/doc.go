// Package config provides application configuration management.
//
// The config package loads config.yaml with viper, applies defaults for the
// UDP listener, the sandbox limits and capability whitelist, the MCP control
// surface, the metrics endpoint and logging, and validates the result. A
// missing config file is not an error; defaults are used instead.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Listening on %s\n", cfg.ListenAddr())
package config
