package main

import (
	"log/slog"
	"os"

	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/arcgis"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/config"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/console"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/extract"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/fetch"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/geoproc"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/reftable"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/site"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/store"
	"github.com/Sudo-Ivan/arcgis-siteprep/pkg/style"
)

// app holds the configuration and shared clients of one command.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	client  *arcgis.Client
	palette *console.Palette
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := console.NewLogger(os.Stderr, console.LoggerOptions{
		Verbose: verbose,
		NoColor: noColor,
		JSON:    jsonLogs,
	})
	slog.SetDefault(log)
	return &app{
		cfg:     cfg,
		log:     log,
		client:  arcgis.NewClient(cfg.HTTP.Timeout()).WithToken(cfg.Auth.Token),
		palette: console.NewPalette(os.Stdout, noColor),
	}, nil
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.cfg.Store.Path, store.Options{Verbose: traceSQL})
}

func (a *app) siteService() *site.Service {
	return &site.Service{
		Client: a.client,
		Engine: geoproc.Planar{},
		Endpoints: site.Endpoints{
			GeocodeServer: a.cfg.Services.GeocodeServer,
			Parcels:       a.cfg.Services.Parcels,
			StudyAreas:    a.cfg.Services.StudyArea,
		},
		Geocode: arcgis.GeocodeOptions{
			CountryCode:    a.cfg.Geocode.CountryCode,
			MaxSuggestions: a.cfg.Geocode.MaxSuggestions,
		},
		SuggestTimeout:       a.cfg.HTTP.SuggestTimeout(),
		ParcelFallbackMeters: a.cfg.Geocode.ParcelFallbackMeters,
		Logger:               a.log,
	}
}

// referenceSource prefers the offline reference file when one is configured.
func (a *app) referenceSource(file string) reftable.Source {
	if file == "" {
		file = a.cfg.Extract.ReferenceFile
	}
	if file != "" {
		return reftable.FileSource{Path: config.ExpandPath(file), DefaultDataset: a.cfg.Extract.DefaultDataset}
	}
	return &reftable.RemoteSource{
		Client:         a.client,
		URL:            a.cfg.Services.ReferenceTable,
		Token:          a.cfg.Auth.Token,
		DefaultDataset: a.cfg.Extract.DefaultDataset,
	}
}

func (a *app) orchestrator(st *store.Store) *extract.Orchestrator {
	idClient := arcgis.NewClient(a.cfg.HTTP.IDQueryTimeout()).WithToken(a.cfg.Auth.Token)
	return &extract.Orchestrator{
		IDs:        &fetch.IDFetcher{Client: idClient, Token: a.cfg.Auth.Token, Logger: a.log},
		Downloader: &fetch.Downloader{Client: a.client, BatchSize: a.cfg.Extract.BatchSize, Logger: a.log},
		Store:      st,
		Engine:     geoproc.Planar{},
		Styles: &style.Resolver{
			SearchDirs: a.cfg.StyleSearchDirs(),
			Metadata:   a.client,
			Logger:     a.log,
		},
		Metadata: a.client,
		Logger:   a.log,
	}
}
