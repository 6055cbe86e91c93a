package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

// Version is set at build time
var Version = "dev"

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = "hookmta"
	app.Usage = "SMTP and POP3 server with greylisting, DNS blocklists and tarpitting"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringSliceFlag{
			Name:   "config,c",
			Usage:  "configuration file, may be given more than once",
			EnvVar: "HOOKMTA_CONFIG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "start the SMTP, POP3 and metrics listeners",
			Action: serve,
		},
		{
			Name:   "check-config",
			Usage:  "load and verify the configuration",
			Action: checkConfig,
		},
	}
	return app
}

func main() {
	if err := makeApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
