package main

import (
	"encoding/json"

	"github.com/urfave/cli/v2"

	"go.viam.com/framedetect/services/detectlabel"
)

// SchemaAction prints the schema of the "detector" block of a serve config.
func SchemaAction(c *cli.Context) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(detectlabel.ConfigSchema())
}
