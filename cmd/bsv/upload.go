package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/bsv/ledger"
	"github.com/bobg/bsv/upload"
)

func (c maincmd) upload(ctx context.Context, fs *flag.FlagSet, args []string) (err error) {
	var (
		version     = fs.String("version", "", "version to record (default: next in the file's history)")
		identity    = fs.String("identity", "", "name to track versions under (default: the file path)")
		verify      = fs.Bool("verify", true, "read the blob back and check its size")
		description = fs.String("description", "Uploaded tar file", "description to record with the blob")
		tags        = fs.String("tags", "uploaded,tar", "comma-separated tags to record with the blob")
	)
	err = fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if fs.NArg() < 1 {
		return errors.New("missing file name")
	}
	path := fs.Arg(0)
	if *identity == "" {
		*identity = path
	}

	cl, err := c.client(ctx, true)
	if err != nil {
		return err
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

	u := &upload.Uploader{Client: cl, Ledger: l, Verify: *verify}
	res, err := u.UploadAs(ctx, *identity, path, *version, annotations(*description, *tags))
	if err != nil {
		return err
	}

	fmt.Printf("Uploaded %s version %s\n", res.Identity, res.Version)
	fmt.Printf("Blob ID: %s\n", res.Handle)
	fmt.Printf("Size: %d bytes\n", res.Size)
	if *verify && !res.Verified {
		fmt.Fprintln(os.Stderr, "Warning: could not verify the upload")
	}
	return nil
}

// versions prints the version history of one identity, or of all of them.
func (c maincmd) versions(ctx context.Context, fs *flag.FlagSet, args []string) (err error) {
	err = fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
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

	if fs.NArg() > 0 {
		identity := fs.Arg(0)
		e, ok, err := l.Get(ctx, identity)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("no versions recorded for %s", identity)
		}
		next, err := l.NextVersion(ctx, identity, "")
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"identity":    identity,
			"entry":       e,
			"nextVersion": next,
		})
	}

	st, err := l.Load(ctx)
	if err != nil {
		return err
	}
	return printState(st)
}

func printState(st ledger.State) error {
	identities := make([]string, 0, len(st))
	for id := range st {
		identities = append(identities, id)
	}
	sort.Strings(identities)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tVERSION\tUPLOADS\tLAST UPDATED")
	for _, id := range identities {
		e := st[id]
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", id, e.LastVersion, e.UploadCount, e.LastUpdated.Format(time.RFC3339))
	}
	return errors.Wrap(w.Flush(), "writing output")
}
