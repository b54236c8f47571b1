// Package bsv is a client-side layer over a remote blob store.
//
// A remote blob store keeps arbitrarily sized sequences of bytes,
// or _blobs_,
// and hands back an opaque _handle_ for each one.
// The handle is the only way to get the blob back:
// the store can't list what it holds,
// and it knows nothing about what the bytes mean.
//
// This module adds the meaning.
// Every blob it writes is a _frame_:
// a little JSON metadata document
// (a timestamp, a description, some tags, maybe a file name)
// followed by the payload,
// which is either the JSON encoding of a record or the raw bytes of a file.
// Reading a handle back gives you both halves.
// See the frame subpackage.
//
// Remote stores are reached over the network,
// and networks fail in the most creative ways at the least convenient times.
// So writes go through a retry policy
// (see the retry subpackage)
// that tries a fixed number of times with a fixed pause in between
// before giving up.
//
// Because a handle changes whenever the content does,
// it is hard to talk about "the latest upload of release.tar" using handles alone.
// So there is also a local _ledger_
// (see the ledger subpackage)
// that remembers, for each file you upload repeatedly,
// its last version number and how many times it was sent,
// and picks the next version number for you.
//
// The client subpackage puts these together,
// the upload subpackage adds the ledger on top,
// and the store subpackages supply concrete blob stores:
// the Walrus HTTP publisher/aggregator,
// and local, SQL, and cloud stores that behave the same way.
package bsv
