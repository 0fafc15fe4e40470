// Command mtsnode runs a single message transport node.
//
// The node reads an optional YAML file given with -config, overlays MTS_*
// environment variables, and serves the HTTP protocol and Prometheus metrics
// on one listener.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/fxsml/gomts/config"
)

func main() {
	path := flag.String("config", "", "path to a YAML configuration file")
	keys := flag.Bool("env", false, "print the environment variables read and exit")
	flag.Parse()

	if *keys {
		for _, k := range config.Keys("", Config{}) {
			fmt.Println(k)
		}
		return
	}

	cfg, err := loadConfig(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mtsnode:", err)
		os.Exit(2)
	}

	fx.New(app(cfg)).Run()
}
