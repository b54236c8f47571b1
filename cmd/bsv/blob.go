package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/bsv/client"
	"github.com/bobg/bsv/server"
)

func annotationFlags(fs *flag.FlagSet) (description, tags *string) {
	description = fs.String("description", "", "description to record with the blob")
	tags = fs.String("tags", "", "comma-separated tags to record with the blob")
	return description, tags
}

func annotations(description, tags string) client.Annotations {
	a := client.Annotations{Description: description}
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			a.Tags = append(a.Tags, t)
		}
	}
	return a
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "writing output")
}

// store reads a JSON value from a file (or stdin) and stores it as a record.
func (c maincmd) store(ctx context.Context, fs *flag.FlagSet, args []string) error {
	description, tags := annotationFlags(fs)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	var r io.Reader = os.Stdin
	if fs.NArg() > 0 && fs.Arg(0) != "-" {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return errors.Wrapf(err, "opening %s", fs.Arg(0))
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading input")
	}
	if !json.Valid(data) {
		return errors.New("input is not valid JSON")
	}

	cl, err := c.client(ctx, true)
	if err != nil {
		return err
	}
	h, err := cl.StoreRecord(ctx, json.RawMessage(data), annotations(*description, *tags))
	if err != nil {
		return errors.Wrap(err, "storing record")
	}
	fmt.Println(h)
	return nil
}

func (c maincmd) retrieve(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	h, err := handleArg(fs)
	if err != nil {
		return err
	}

	cl, err := c.client(ctx, false)
	if err != nil {
		return err
	}
	rec, err := cl.RetrieveRecord(ctx, h)
	if err != nil {
		return errors.Wrapf(err, "retrieving %s", h)
	}
	return printJSON(map[string]interface{}{
		"metadata": rec.Meta,
		"content":  rec.Content,
	})
}

func (c maincmd) storeFile(ctx context.Context, fs *flag.FlagSet, args []string) error {
	description, tags := annotationFlags(fs)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if fs.NArg() < 1 {
		return errors.New("missing file name")
	}

	cl, err := c.client(ctx, true)
	if err != nil {
		return err
	}
	h, err := cl.StoreFile(ctx, fs.Arg(0), annotations(*description, *tags))
	if err != nil {
		return errors.Wrapf(err, "storing %s", fs.Arg(0))
	}
	fmt.Println(h)
	return nil
}

// retrieveFile writes a stored file to the path given as the second argument,
// or else to the file name recorded in its metadata.
func (c maincmd) retrieveFile(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	h, err := handleArg(fs)
	if err != nil {
		return err
	}

	cl, err := c.client(ctx, false)
	if err != nil {
		return err
	}

	out := fs.Arg(1)
	if out == "" {
		meta, _, err := cl.RetrieveFileBytes(ctx, h)
		if err != nil {
			return errors.Wrapf(err, "retrieving %s", h)
		}
		out = meta.FileName
		if out == "" {
			out = server.DefaultFileName
		}
	}

	meta, err := cl.RetrieveFile(ctx, h, out)
	if err != nil {
		return errors.Wrapf(err, "retrieving %s", h)
	}
	fmt.Printf("wrote %s (%s)\n", out, meta.Description)
	return nil
}

func (c maincmd) info(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	h, err := handleArg(fs)
	if err != nil {
		return err
	}

	cl, err := c.client(ctx, false)
	if err != nil {
		return err
	}
	info, err := cl.Info(ctx, h)
	if err != nil {
		return errors.Wrapf(err, "getting info for %s", h)
	}
	return printJSON(map[string]interface{}{
		"blobId":      h,
		"metadata":    info.Meta,
		"size":        info.Size,
		"payloadSize": info.PayloadSize,
	})
}

func (c maincmd) list(ctx context.Context, fs *flag.FlagSet, args []string) error {
	limit := fs.Int("limit", 10, "maximum number of blobs to list")
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	cl, err := c.client(ctx, false)
	if err != nil {
		return err
	}
	handles, err := cl.ListRecentBlobs(ctx, *limit)
	if err != nil {
		return err
	}
	for _, h := range handles {
		fmt.Println(h)
	}
	if len(handles) == 0 {
		fmt.Fprintln(os.Stderr, "No blobs to list: the store cannot enumerate its contents. Try `bsv versions`.")
	}
	return nil
}
