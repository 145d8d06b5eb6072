package commands

import (
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/pagedeploy/internal/config"
)

// DefaultConfigFile is written by 'init' when no --config is given.
const DefaultConfigFile = "pagedeploy.yaml"

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force  bool   `help:"Overwrite existing configuration file"`
	Output string `short:"o" name:"output" help:"Output directory for generated config file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	path := root.Config
	switch {
	case i.Output != "":
		path = filepath.Join(i.Output, DefaultConfigFile)
	case path == "":
		path = DefaultConfigFile
	}
	return RunInit(g, path, i.Force)
}

func RunInit(g *Global, configPath string, force bool) error {
	_, _ = fmt.Fprintf(g.out(), "Writing configuration to %s\n", configPath)
	if err := config.Init(configPath, force); err != nil {
		_, _ = fmt.Fprintln(g.out(), "Initialization failed")
		return err
	}
	_, _ = fmt.Fprintln(g.out(), "initialized successfully")
	return nil
}
