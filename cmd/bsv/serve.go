package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/bsv/server"
	"github.com/bobg/bsv/signer"
	"github.com/bobg/bsv/upload"
)

func (c maincmd) serve(ctx context.Context, fs *flag.FlagSet, args []string) (err error) {
	var (
		listen = fs.String("listen", c.conf.Listen, "address to listen on")
		verify = fs.Bool("verify", false, "read back versioned uploads and check their sizes")
	)
	err = fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	cl, err := c.client(ctx, false)
	if err != nil {
		return err
	}
	if cl.Signer == nil {
		log.Warn("no private key, uploads will go out unsigned")
	}

	l, closer, err := c.ledger(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closer(); err == nil {
			err = closeErr
		}
	}()

	s := &server.Server{
		Client:    cl,
		Uploader:  &upload.Uploader{Client: cl, Ledger: l, Verify: *verify},
		MaxUpload: int64(c.conf.MaxUpload) << 20,
		Sentry:    c.conf.SentryDSN != "",
	}
	srv := &http.Server{
		Addr:    *listen,
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", *listen).Info("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// address prints the address of the configured private key,
// or generates a new key.
func (c maincmd) address(_ context.Context, fs *flag.FlagSet, args []string) error {
	generate := fs.Bool("generate", false, "generate a new private key and print it with its address")
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	if *generate {
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return errors.Wrap(err, "generating seed")
		}
		s, err := signer.FromSeed(seed)
		if err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", c.conf.KeyEnv, s.Export())
		fmt.Println(s.Address())
		return nil
	}

	s, err := c.conf.NewSigner()
	if err != nil {
		return err
	}
	fmt.Println(s.Address())
	return nil
}
