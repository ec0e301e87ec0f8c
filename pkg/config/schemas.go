package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// configSchema closes the configuration document and supplies the
// defaults. It mirrors Default.
const configSchema = `
#Config: {
	database: {
		path:         string | *"patchwork.db"
		maxOpenConns: int & >=0 | *4
	}
	logging: {
		level:  *"info" | "trace" | "debug" | "warn" | "error" | "fatal"
		format: *"console" | "json"
		output: string | *"stderr"
	}
	tracing: {
		enabled:      bool | *false
		exporter:     *"none" | "otlp" | "stdout"
		endpoint?:    string
		samplingRate: number & >=0 & <=1 | *1.0
	}
	metrics: {
		enabled:       bool | *false
		listenAddress: string | *":9090"
		path:          =~"^/" | *"/metrics"
		namespace:     string | *"patchwork"
	}
	packages: {
		dir: string | *"packages"
	}
	policies: {
		enabled:     bool | *true
		dir?:        string
		environment: string | *"development"
	}
	execution: {
		releaseDateTolerance: =~"^[0-9]+(ns|us|ms|s|m|h)([0-9]+(ns|us|ms|s|m|h))*$" | *"24h"
		forceReinstall:       bool | *false
		inProcessPhases:      bool | *false
		targetPath?:          string
	}
	parameters: [=~"^@[A-Za-z_][A-Za-z0-9_.]*$"]: string
}
`

// compileSchema returns the #Config definition.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile configuration schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("configuration schema has no #Config definition")
	}
	return def, nil
}
