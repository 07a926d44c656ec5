// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax, which keeps the Adafruit IO key
// out of the file:
//
//	adafruit:
//	  account: farmer
//	  api_key: ${AIO_KEY}
//
// Everything except the account and key has a default. See configs/dashboard.example.yaml.
package config
