// Package config loads the patchwork engine configuration.
//
// The configuration is a CUE document, patchwork.cue by default. It is
// unified with a closed #Config schema that supplies every default, so an
// empty or missing file yields Default(). Unknown fields and values of the
// wrong type are rejected with their file positions; the decoded struct is
// then checked with validator tags.
//
//	database: path: "/var/lib/patchwork/patchwork.db"
//	logging: {
//	    level:  "debug"
//	    format: "json"
//	}
//	policies: environment: "production"
//	execution: {
//	    releaseDateTolerance: "48h"
//	    inProcessPhases:      true
//	}
//	parameters: "@site": "intranet"
//
// Errors are returned as ValidationErrors:
//
//	cfg, err := config.Load("patchwork.cue")
//	var verrs config.ValidationErrors
//	if errors.As(err, &verrs) {
//	    for _, e := range verrs {
//	        fmt.Println(e)
//	    }
//	}
package config
