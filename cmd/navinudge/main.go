// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the navinudge daemon and its command line interface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wneessen/navinudge/internal/config"
	"github.com/wneessen/navinudge/internal/destination"
	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/geocode"
	"github.com/wneessen/navinudge/internal/gpspoll"
	"github.com/wneessen/navinudge/internal/i18n"
	"github.com/wneessen/navinudge/internal/logger"
	"github.com/wneessen/navinudge/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const positionTimeout = time.Second * 3

// errUsage is returned by commands called with invalid arguments.
var errUsage = errors.New("invalid usage")

// app bundles what the commands need. External effects are replaceable for tests.
type app struct {
	conf   *config.Config
	log    *logger.Logger
	out    io.Writer
	store  *destination.Store
	format *i18n.Formatter

	geocoderFn func() (geocode.Geocoder, error)
	positionFn func(context.Context) (geobus.Coordinate, error)
	openFn     func(string) error
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	// Initialize Logger
	log := logger.New(slog.LevelError)

	// Read config
	confRead := false
	confPath := flag.String("config", "", "path to the config file")
	flag.Usage = usage
	flag.Parse()

	// Read default config
	conf, err := config.New()
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		os.Exit(1)
	}

	// If config file was specified, read it
	if *confPath != "" {
		conf, err = config.NewFromFile(filepath.Dir(*confPath), filepath.Base(*confPath))
		if err != nil {
			log.Error("failed to load config from file", logger.Err(err))
			os.Exit(1)
		}
		confRead = true
	}

	// Check if we have a config file in the default location
	if path, file := findConfigFile(); !confRead && (path != "" && file != "") {
		conf, err = config.NewFromFile(path, file)
		if err != nil {
			log.Error("failed to load config from file", logger.Err(err))
			os.Exit(1)
		}
	}
	log = logger.New(conf.LogLevel)

	a := newApp(conf, log, os.Stdout)
	cmd, args := "run", []string(nil)
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}
	if err = a.dispatch(ctx, cmd, args); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		log.Error("command failed", slog.String("command", cmd), logger.Err(err))
		os.Exit(1)
	}
}

func newApp(conf *config.Config, log *logger.Logger, out io.Writer) *app {
	a := &app{
		conf: conf,
		log:  log,
		out:  out,
		store: destination.NewStore(conf.Destinations.File, log,
			destination.WithSaveDebounce(conf.Destinations.SaveDebounce)),
		format: i18n.NewFormatter(conf.Language()),
		openFn: xdgOpen,
	}
	a.geocoderFn = func() (geocode.Geocoder, error) {
		return service.NewGeocoder(conf, log)
	}
	a.positionFn = func(ctx context.Context) (geobus.Coordinate, error) {
		if conf.GeoLocation.DisableGPSD {
			return geobus.Coordinate{}, errors.New("gpsd is disabled")
		}
		ctx, cancel := context.WithTimeout(ctx, positionTimeout)
		defer cancel()
		return gpspoll.New(conf.GeoLocation.GPSDHost, conf.GeoLocation.GPSDPort).Position(ctx)
	}
	return a
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	if cmd == "run" {
		return a.run(ctx)
	}
	commands := map[string]func(context.Context, []string) error{
		"list":     a.list,
		"add":      a.add,
		"remove":   a.remove,
		"move":     a.move,
		"edit":     a.edit,
		"route":    a.route,
		"search":   a.search,
		"position": a.where,
	}
	command, ok := commands[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
	if err := a.store.Load(); err != nil {
		return err
	}
	if err := command(ctx, args); err != nil {
		return err
	}
	return a.store.Flush()
}

func (a *app) run(ctx context.Context) error {
	loc, err := i18n.New(a.conf.Language())
	if err != nil {
		return fmt.Errorf("failed to initialize i18n: %w", err)
	}
	serv, err := service.New(a.conf, a.log, loc)
	if err != nil {
		return fmt.Errorf("failed to initialize navinudge service: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	serv.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		defer serv.SignalSrc.Stop(sigChan)
		serv.HandleSignals(ctx, sigChan)
	}()

	a.log.Info("starting navinudge service", slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date))
	if err = serv.Run(ctx); err != nil {
		return fmt.Errorf("navinudge service failed: %w", err)
	}
	a.log.Info("shutting down navinudge service")
	return nil
}

func usage() {
	_, _ = fmt.Fprintf(os.Stderr, `Usage: navinudge [-config file] <command> [arguments]

Commands:
  run                                   run the proximity daemon (default)
  list [-at lat,lon] [-no-gps]          list destinations with their distance
  add -name N [-icon I] -lat X -lon Y [-index N]
  add -url <maps link> [-name N]        add a destination from an Apple Maps or geo: link
  add -query <text> [-name N]           add the first search result
  remove <destination>...               remove destinations by id, id prefix or name
  move <destination> <position>         move a destination to a 1-based position
  edit <destination> [-name N] [-icon I] [-lat X] [-lon Y]
  route [-from here|<destination>] -to <destination> [-mode d|w|r|b] [-app apple|google] [-open]
  search [-limit N] <text>              search places through the geocoder
  position [-resolve]                   print the gpsd position and the nearest destination
`)
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", "navinudge", "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}

func xdgOpen(url string) error {
	cmd := exec.Command("xdg-open", url)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open maps URL: %w", err)
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
