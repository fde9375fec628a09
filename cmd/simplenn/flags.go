package main

import "github.com/urfave/cli/v3"

var (
	modelPath   string
	modelsPath  string
	engine      string
	backendLib  string
	systemLib   string
	useSignedPD bool
	useVNDK     bool
	kernel      string
	logLevel    string
	logFormat   string
	debug       bool
	configFile  string
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to .mcf file or gs://bucket/object",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "path to directory containing .mcf models",
			Destination: &modelsPath,
		},
		&cli.StringFlag{
			Name:        "engine",
			Aliases:     []string{"backend"},
			Usage:       "execution engine (auto, cpu, reference, qnn)",
			Value:       "auto",
			Destination: &engine,
		},
	}
}

// accelFlags configure the device of accelerator engines.
func accelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend-lib",
			Usage:       "accelerator backend library",
			Destination: &backendLib,
		},
		&cli.StringFlag{
			Name:        "system-lib",
			Usage:       "accelerator system library",
			Destination: &systemLib,
		},
		&cli.BoolFlag{
			Name:        "signed-pd",
			Usage:       "run in a signed protection domain",
			Destination: &useSignedPD,
		},
		&cli.BoolFlag{
			Name:        "vndk",
			Usage:       "load vendor libraries through the VNDK (arm64 only)",
			Destination: &useVNDK,
		},
		&cli.StringFlag{
			Name:        "kernel",
			Usage:       "quantization kernel (auto, scalar, tiled)",
			Value:       "auto",
			Destination: &kernel,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file (default: <user config dir>/simplenn/config.yaml)",
			Destination: &configFile,
		},
	}
}
