// Package config handles loading and validating Matter Gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GATEWAY_* and LARNITECH_*)
//   - Loading a JSON device inventory file
//   - Validation of required fields
//
// Security Considerations:
//   - Controller passwords and tokens should be set via environment variables
//     (a .env file is read by the gateway binary before Load is called)
//   - The config file should have restricted permissions (0600)
//   - An empty JWT secret disables subscriber authentication; it is meant
//     for development only
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Persistence.Path)
package config
