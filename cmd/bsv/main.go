// Command bsv stores and retrieves framed blobs
// and keeps the version history of uploaded files.
//
// Usage:
//
//	bsv [-config FILE] SUBCOMMAND [ARGS]
//
// The config file is JSON, or TOML if its name ends in .toml.
// Without one, bsv talks to the Walrus testnet
// and keeps its version ledger in versions.json.
// Writes need a private key in the environment variable PRIVATE_KEY
// (or whichever the config's key_env names).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobg/subcmd"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/bsv"
	"github.com/bobg/bsv/client"
	"github.com/bobg/bsv/config"
	"github.com/bobg/bsv/ledger"
	"github.com/bobg/bsv/signer"
	_ "github.com/bobg/bsv/store/compress"
	_ "github.com/bobg/bsv/store/file"
	_ "github.com/bobg/bsv/store/gcs"
	_ "github.com/bobg/bsv/store/logging"
	_ "github.com/bobg/bsv/store/lru"
	_ "github.com/bobg/bsv/store/mem"
	_ "github.com/bobg/bsv/store/mysql"
	_ "github.com/bobg/bsv/store/pg"
	_ "github.com/bobg/bsv/store/s3"
	_ "github.com/bobg/bsv/store/sqlite3"
	_ "github.com/bobg/bsv/store/walrus"
)

var log = logrus.WithField("logger", "bsv")

type maincmd struct {
	conf *config.Config
}

func main() {
	var (
		configPath = flag.String("config", "bsv.json", "path to config file")
		verbose    = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	conf, err := config.Load(*configPath, true)
	if err != nil {
		log.Fatal(err)
	}
	if err := conf.ConfigureLogging(); err != nil {
		log.Fatal(err)
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if conf.SentryDSN != "" {
		if err := raven.SetDSN(conf.SentryDSN); err != nil {
			log.Fatalf("Setting Sentry DSN: %s", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = subcmd.Run(ctx, maincmd{conf: conf}, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"address":       c.address,
		"info":          c.info,
		"list":          c.list,
		"retrieve":      c.retrieve,
		"retrieve-file": c.retrieveFile,
		"serve":         c.serve,
		"store":         c.store,
		"store-file":    c.storeFile,
		"upload":        c.upload,
		"versions":      c.versions,
	}
}

// client builds a client for the configured store.
// Without needKey a missing private key is tolerated
// and the client can only read.
func (c maincmd) client(ctx context.Context, needKey bool) (*client.Client, error) {
	var sg bsv.Signer
	s, err := c.conf.NewSigner()
	switch {
	case err == nil:
		sg = s
	case errors.Is(err, signer.ErrNoKey) && !needKey:
		log.WithError(err).Debug("no signer, continuing read-only")
	default:
		return nil, err
	}
	return c.conf.NewClient(ctx, sg)
}

func (c maincmd) ledger(ctx context.Context) (*ledger.Ledger, func() error, error) {
	return c.conf.NewLedger(ctx)
}

func handleArg(fs *flag.FlagSet) (bsv.Handle, error) {
	if fs.NArg() < 1 {
		return "", errors.New("missing blob ID")
	}
	h := bsv.Handle(fs.Arg(0))
	if !h.Valid() {
		return "", errors.Errorf("invalid blob ID %s", h)
	}
	return h, nil
}
